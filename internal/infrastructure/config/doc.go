// Package config provides 12-factor configuration management for the
// courier tracker.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: dashboard API settings (port, host, allowed origins)
//   - Directory: Package Directory Service base URL, token and timeouts
//   - Live: live update transport, reconnect policy and keepalive
//   - Sync: page size, stuck threshold and saved views file
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	views, err := config.LoadViews(cfg.Sync.ViewsFile)
//
// Environment Variables:
//   - PORT, HOST, ALLOWED_ORIGINS
//   - DIRECTORY_URL, DIRECTORY_TOKEN, DIRECTORY_TIMEOUT, DIRECTORY_RPS
//   - LIVE_TRANSPORT, LIVE_URL, LIVE_REDIS_ADDR, LIVE_MAX_ATTEMPTS
//   - PAGE_SIZE, STUCK_AFTER, VIEWS_FILE
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
