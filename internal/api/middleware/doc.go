// Package middleware provides HTTP middleware for the dashboard API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for the configured origins
//   - RateLimit: Per-IP token bucket rate limiting
//   - RequestID: X-Request-ID propagation
//   - AccessLog: One structured log line per request
//
// Rate Limiting:
//   - Per-IP tracking with idle cleanup
//   - Configurable RPS and burst capacity
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
