// Package main is the entry point for the courier tracker dashboard server.
//
// The server keeps a live local cache of the Package Directory Service for
// each signed-in dispatcher and serves it to the dashboard.
//
// Architecture:
//
//	Dashboard (browser) → courier tracker → Package Directory Service (REST)
//	                                      ← Live Update Channel (WebSocket or Redis)
//
// The server provides:
//   - REST API over filtered, live-updated views
//   - WebSocket streaming of view snapshots
//   - Package and courier mutations forwarded to the directory
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	DIRECTORY_TOKEN=... ./server -port 8000 -directory https://dir.example.com/api/v1
//
//	# Development mode (colored logs, debug level)
//	./server -dev -live off
package main
