// Package ws streams view snapshots to dashboard clients over WebSocket.
//
// A client connects to /api/views/:id/stream and receives:
//   - rows: the view snapshot, sent on connect and whenever the store moves
//   - live: live channel health, sent on connect and on every change
//   - closed: the view was unmounted; the server closes the socket
//   - pong: answer to a client ping
//   - error: a rejected client message
//
// Clients may send {"type":"ping"} or {"type":"refresh"}.
package ws
