// Package live subscribes to the Live Update Channel.
//
// A Source turns the channel into a lazy, restartable stream of tagged
// events. Nothing connects until Events is called, and the stream only ends
// when the caller's context does: connection loss moves the source back to
// Connecting and it redials with exponential backoff and jitter.
//
// Event Kinds:
//   - Upserted: a full or partial record pushed by the server
//   - Removed: a record id deleted on the server
//   - Connected: a (re)connection succeeded; consumers should refetch
//   - Degraded: several consecutive connection attempts failed
//
// Two transports share the same frame format:
//
//	{"event": "entity-upserted", "data": {...}}
//	{"event": "entity-removed",  "data": {"id": "PKG1"}}
//
// Subscriber dials a WebSocket endpoint with gorilla/websocket. RedisSource
// reads frames from a Redis pub/sub channel, for deployments that fan the
// channel out through Redis.
//
// Events are not deduplicated and missed events are not backfilled; the
// Connected event is the cue to refetch.
package live
