/*
Package monitoring provides metrics collection for the courier tracker.

# Overview

This package implements Prometheus-based metrics for the dashboard API, the
Package Directory Service client, the live update channel, the entity
stores and the filtered views. Every Metrics value owns its registry.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "packages", "list")
	// ... perform call ...
	timer.Stop("200")

All recording methods are safe on a nil *Metrics.
*/
package monitoring
