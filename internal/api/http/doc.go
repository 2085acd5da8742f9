// Package http serves the dashboard API over the session cache.
//
// Every route below /api is scoped to one session, chosen by the
// X-Session-ID header (or the session query parameter for WebSocket
// clients) and falling back to the default session opened at startup.
//
// Route groups:
//   - /sessions: sign in with a directory token, sign out
//   - /api/views: mount, inspect, refresh and close filtered views
//   - /api/packages, /api/couriers: create, read, update and delete
//   - /api/status-updates: courier status updates sent on the live channel
//   - /api/live: live channel health
package http
