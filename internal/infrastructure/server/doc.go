// Package server wires the dashboard API.
//
// This package orchestrates all components:
//   - HTTP routing with Gin
//   - Middleware stack (recovery, request IDs, metrics, CORS, rate limiting)
//   - Session manager and the default session
//   - WebSocket view streams
//
// Server Lifecycle:
//  1. Load configuration from environment and flags
//  2. Initialize logger and metrics
//  3. Load saved views
//  4. Open the default session when a directory token is configured
//  5. Setup HTTP routes and middleware
//  6. Start HTTP server
//  7. Graceful shutdown on signal, closing every session
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(ctx, cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
