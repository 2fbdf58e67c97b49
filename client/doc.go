// Package client is the caller side of the chat bridge: a single resilient call primitive with a deadline per attempt,
// immediate bounded retries of timeouts and connection failures, and validation of the response shape.
package client
