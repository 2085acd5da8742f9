// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Each subsystem logs through a named child (Component), so entries carry
// "component": "live", "directory", "reconcile" and so on.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	live := logger.Component("live")
//	live.Info("Connected to live channel", zap.String("url", url))
package logging
