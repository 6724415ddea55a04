// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hozon"

// Metrics holds all application metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted    prometheus.Counter
	SessionsFinished   *prometheus.CounterVec
	SessionsInProgress prometheus.Gauge
	SessionDuration    prometheus.Histogram
	QueueRejected      prometheus.Counter

	// Event metrics
	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Storage metrics
	CleanupSessionsTotal prometheus.Counter
	CleanupPartialsTotal *prometheus.CounterVec
	StoredSessions       prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// External tool metrics
	ToolSpawnsTotal *prometheus.CounterVec
	ToolErrors      *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Total number of download sessions accepted",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "finished_total",
			Help:      "Total number of download sessions by terminal state",
		}, []string{"state"}),
		SessionsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "in_progress",
			Help:      "Number of sessions queued or running",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Histogram of session run time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		QueueRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "queue_rejected_total",
			Help:      "Total number of submissions rejected because the queue was full",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by name",
		}, []string{"name"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped for slow subscribers",
		}),

		CleanupSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_sessions_total",
			Help:      "Total number of expired session snapshots evicted",
		}),
		CleanupPartialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_partials_total",
			Help:      "Total number of partial artifact removals by outcome",
		}, []string{"kind", "outcome"}),
		StoredSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "sessions_current",
			Help:      "Current number of stored session snapshots",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of sessions routed through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		ToolSpawnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "spawns_total",
			Help:      "Total number of external tool invocations by phase",
		}, []string{"phase"}),
		ToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "errors_total",
			Help:      "Total number of external tool errors",
		}, []string{"phase", "error_type"}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionTimer returns a function to record session duration.
func (m *Metrics) SessionTimer() func() {
	start := time.Now()

	return func() {
		m.SessionDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordSessionStarted increments the sessions started counter.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsInProgress.Inc()
}

// RecordSessionFinished records a session reaching a terminal state.
func (m *Metrics) RecordSessionFinished(state string) {
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionsInProgress.Dec()
}

// RecordQueueRejected records a submission refused by a full queue.
func (m *Metrics) RecordQueueRejected() {
	m.QueueRejected.Inc()
	m.SessionsInProgress.Dec()
}

// RecordEvent records a published event.
func (m *Metrics) RecordEvent(name string) {
	m.EventsPublished.WithLabelValues(name).Inc()
}

// RecordEventDropped records an event a subscriber could not take.
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordCleanup records evicted snapshots.
func (m *Metrics) RecordCleanup(sessions int) {
	m.CleanupSessionsTotal.Add(float64(sessions))
}

// RecordPartialCleanup records one partial artifact removal attempt.
func (m *Metrics) RecordPartialCleanup(kind, outcome string) {
	m.CleanupPartialsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordToolSpawn records an external tool invocation.
func (m *Metrics) RecordToolSpawn(phase string) {
	m.ToolSpawnsTotal.WithLabelValues(phase).Inc()
}

// RecordToolError records an external tool error.
func (m *Metrics) RecordToolError(phase, errorType string) {
	m.ToolErrors.WithLabelValues(phase, errorType).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	m.ProxiesAvailable.Set(float64(count))
}

// SetStoredSessions sets the number of stored sessions.
func (m *Metrics) SetStoredSessions(count int) {
	m.StoredSessions.Set(float64(count))
}
