// Package audit implements the append-only audit trail for authentication
// events.
//
// # Components
//
//   - [Event]: one log entry: ULID id, type, status, reason, method, origin.
//   - [Sink]: event consumers (channel, JSON writer, durable store, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit. That belongs to the Engine.
//
// # What this package must NOT do
//
//   - Mutate or delete events once handed to a sink.
//   - Import campusauth or any sibling internal package.
package audit
