package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several collectors can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Store metrics
	StoreRecords   *prometheus.GaugeVec
	StoreWrites    *prometheus.CounterVec
	ReconcileRuns  *prometheus.CounterVec
	ReconcileDelta *prometheus.CounterVec

	// Directory metrics
	DirectoryCalls    *prometheus.CounterVec
	DirectoryDuration *prometheus.HistogramVec
	DirectoryErrors   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec

	// Live channel metrics
	LiveState      *prometheus.GaugeVec
	LiveReconnects prometheus.Counter
	LiveEvents     *prometheus.CounterVec
	LiveDropped    *prometheus.CounterVec

	// View metrics
	ViewRecomputes *prometheus.CounterVec
	ViewRows       *prometheus.GaugeVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	DirectoryCalls    int64   `json:"directoryCalls"`
	DirectoryErrors   int64   `json:"directoryErrors"`
	LiveEvents        int64   `json:"liveEvents"`
	Reconnects        int64   `json:"reconnects"`
	ActiveSessions    int64   `json:"activeSessions"`
	ActiveConnections int64   `json:"activeConnections"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`

	totalDuration float64
	requestCount  int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Store metrics
		StoreRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_store_records",
				Help: "Number of records held in the entity store",
			},
			[]string{"resource"},
		),
		StoreWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_store_writes_total",
				Help: "Store write attempts by outcome",
			},
			[]string{"resource", "outcome"},
		),
		ReconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_reconcile_runs_total",
				Help: "Total number of fetch reconciliations",
			},
			[]string{"resource"},
		),
		ReconcileDelta: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_reconcile_records_total",
				Help: "Records touched by reconciliation, by change kind",
			},
			[]string{"resource", "change"},
		),

		// Directory metrics
		DirectoryCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_directory_calls_total",
				Help: "Total number of Package Directory Service calls",
			},
			[]string{"resource", "method", "status"},
		),
		DirectoryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_directory_duration_seconds",
				Help:    "Package Directory Service call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"resource", "method"},
		),
		DirectoryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_directory_errors_total",
				Help: "Package Directory Service errors by kind",
			},
			[]string{"resource", "method", "kind"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		// Live channel metrics
		LiveState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_live_state",
				Help: "Live channel state; the current state is 1",
			},
			[]string{"state"},
		),
		LiveReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_live_reconnects_total",
				Help: "Total number of live channel reconnect attempts",
			},
		),
		LiveEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_live_events_total",
				Help: "Live events received by kind",
			},
			[]string{"source", "kind"},
		),
		LiveDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_live_dropped_total",
				Help: "Live frames ignored by reason",
			},
			[]string{"reason"},
		),

		// View metrics
		ViewRecomputes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_view_recomputes_total",
				Help: "Number of view row recomputations",
			},
			[]string{"view"},
		),
		ViewRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_view_rows",
				Help: "Rows currently shown by a view",
			},
			[]string{"view"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_sessions_active",
				Help: "Number of active dashboard sessions",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_ws_connections",
				Help: "Number of active dashboard WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_ws_messages_total",
				Help: "Total number of dashboard WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tracker_uptime_seconds",
				Help: "Process uptime in seconds",
			},
			func() float64 { return time.Since(m.startTime).Seconds() },
		),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.requestCount > 0 {
		s.AvgLatencyMs = s.totalDuration / float64(s.requestCount) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordDirectoryCall records one Package Directory Service call
func (m *Metrics) RecordDirectoryCall(resource, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DirectoryCalls.WithLabelValues(resource, method, status).Inc()
	m.DirectoryDuration.WithLabelValues(resource, method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.DirectoryCalls++
	m.mu.Unlock()
}

// RecordDirectoryError records a classified directory failure
func (m *Metrics) RecordDirectoryError(resource, method, kind string) {
	if m == nil {
		return
	}
	m.DirectoryErrors.WithLabelValues(resource, method, kind).Inc()

	m.mu.Lock()
	m.snapshot.DirectoryErrors++
	m.mu.Unlock()
}

// SetBreakerState records the state of a named circuit breaker
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordStoreWrite records one store write outcome
func (m *Metrics) RecordStoreWrite(resource, outcome string) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(resource, outcome).Inc()
}

// SetStoreRecords sets the number of records cached for a resource
func (m *Metrics) SetStoreRecords(resource string, count int) {
	if m == nil {
		return
	}
	m.StoreRecords.WithLabelValues(resource).Set(float64(count))
}

// RecordReconcile records one reconciliation and its changes
func (m *Metrics) RecordReconcile(resource string, inserted, updated, removed, skipped int) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(resource).Inc()
	m.ReconcileDelta.WithLabelValues(resource, "inserted").Add(float64(inserted))
	m.ReconcileDelta.WithLabelValues(resource, "updated").Add(float64(updated))
	m.ReconcileDelta.WithLabelValues(resource, "removed").Add(float64(removed))
	m.ReconcileDelta.WithLabelValues(resource, "skipped").Add(float64(skipped))
}

// SetLiveState marks state as the current live channel state
func (m *Metrics) SetLiveState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.LiveState.WithLabelValues(s).Set(v)
	}
}

// IncLiveReconnects counts a live channel reconnect attempt
func (m *Metrics) IncLiveReconnects() {
	if m == nil {
		return
	}
	m.LiveReconnects.Inc()

	m.mu.Lock()
	m.snapshot.Reconnects++
	m.mu.Unlock()
}

// RecordLiveEvent records one decoded live event
func (m *Metrics) RecordLiveEvent(source, kind string) {
	if m == nil {
		return
	}
	m.LiveEvents.WithLabelValues(source, kind).Inc()

	m.mu.Lock()
	m.snapshot.LiveEvents++
	m.mu.Unlock()
}

// RecordLiveDropped records a live frame that was ignored
func (m *Metrics) RecordLiveDropped(reason string) {
	if m == nil {
		return
	}
	m.LiveDropped.WithLabelValues(reason).Inc()
}

// RecordViewRecompute records a view recomputation and its row count
func (m *Metrics) RecordViewRecompute(view string, rows int) {
	if m == nil {
		return
	}
	m.ViewRecomputes.WithLabelValues(view).Inc()
	m.ViewRows.WithLabelValues(view).Set(float64(rows))
}

// SetSessionsActive sets the number of active sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))

	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()

	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()

	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
