/*
Package server exposes the worker bridge over HTTP.

	GET  /init     start a session; returns the profile, chat file and first conversation context
	POST /chat     run one chat turn; body {"message": "...", "context": <opaque>}
	GET  /chat/ws  chat turns over a WebSocket, one JSON request per message
	GET  /health   liveness

Diagnostics are logged server-side. Clients only see a normalized error message.
*/
package server
