package receipt

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes counted by Metrics
const (
	outcomeReviewPending     = "review_pending"
	outcomeExtractionFailed  = "extraction_failed"
	outcomeConfirmed         = "confirmed"
	outcomeAborted           = "aborted"
	outcomeValidationFailed  = "validation_failed"
	outcomePersistenceFailed = "persistence_failed"
	outcomeDuplicateBlocked  = "duplicate_blocked"
)

// Metrics holds the Prometheus collectors for one server. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ingestions      *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		ingestions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_ingestions_total",
				Help: "Ingestion session transitions by outcome",
			},
			[]string{"outcome"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_duplicate_signals_total",
				Help: "Duplicate warnings raised, by matching rule",
			},
			[]string{"rule"},
		),
		statusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receipt_status_transitions_total",
				Help: "Receipt status changes by target status",
			},
			[]string{"status"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "receipt_ingestion_sessions_active",
			Help: "Ingestion sessions not yet confirmed or aborted",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.requestDuration, m.ingestions, m.duplicates, m.statusChanges, m.activeSessions)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// instrument wraps an HTTP handler with request count and latency collection
func (m *Metrics) instrument(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		handler(wrapped, r)

		m.requestDuration.WithLabelValues(handlerName, r.Method).Observe(time.Since(startTime).Seconds())
		m.requestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

func (m *Metrics) ingestion(outcome string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) duplicate(rule DuplicateRule) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(string(rule)).Inc()
}

func (m *Metrics) statusChange(to Status) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) setActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
