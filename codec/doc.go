/*
Package codec defines the wire shapes exchanged between the browser-facing HTTP server, its clients, and the worker process that generates chat replies.

The worker is invoked once per request and answers in one of two ways:

1. Initialization ("--init") prints free-form startup logging followed by a single JSON record on its last line. This is decoded with LastLineStructured.
2. A chat turn ("--chat <json>") prints exactly one JSON record. This is decoded with Structured.

Conversation context is opaque outside of the server's init path: it is carried as json.RawMessage so that it is forwarded byte-for-byte on every turn.
*/
package codec
