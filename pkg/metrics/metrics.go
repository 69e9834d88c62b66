// Package metrics exposes Prometheus collectors for the HTTP layer, the
// database pool and extraction operations.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// HTTPMetrics holds request counters and latency histograms
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers HTTP metrics under namespace
func NewHTTPMetrics(reg prometheus.Registerer, namespace string) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware counts and times every request
func (m *HTTPMetrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// DatabaseMetrics mirrors sql.DBStats into gauges
type DatabaseMetrics struct {
	openConnections prometheus.Gauge
	inUse           prometheus.Gauge
	idle            prometheus.Gauge
	waitCount       prometheus.Gauge
}

// NewDatabaseMetrics registers connection pool gauges under namespace
func NewDatabaseMetrics(reg prometheus.Registerer, namespace string) *DatabaseMetrics {
	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		})
	}
	return &DatabaseMetrics{
		openConnections: gauge("open_connections", "Number of established connections"),
		inUse:           gauge("in_use_connections", "Number of connections currently in use"),
		idle:            gauge("idle_connections", "Number of idle connections"),
		waitCount:       gauge("wait_count", "Total number of connections waited for"),
	}
}

// UpdateDBStats copies the pool statistics of db into the gauges
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.openConnections.Set(float64(stats.OpenConnections))
	m.inUse.Set(float64(stats.InUse))
	m.idle.Set(float64(stats.Idle))
	m.waitCount.Set(float64(stats.WaitCount))
}

// ExtractionMetrics tracks extraction operations
type ExtractionMetrics struct {
	OperationsStarted  *prometheus.CounterVec
	OperationsFinished *prometheus.CounterVec
	OperationDuration  prometheus.Histogram
	MatchesExtracted   prometheus.Counter
	ActiveOperations   prometheus.Gauge
	HistoryPersistErrs prometheus.Counter
	SchedulesFired     *prometheus.CounterVec
}

// NewExtractionMetrics registers extraction metrics under namespace
func NewExtractionMetrics(reg prometheus.Registerer, namespace string) *ExtractionMetrics {
	factory := promauto.With(reg)
	return &ExtractionMetrics{
		OperationsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "operations_started_total",
			Help:      "Total number of extraction operations started",
		}, []string{"kind"}),
		OperationsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "operations_finished_total",
			Help:      "Total number of extraction operations finished by final status",
		}, []string{"status"}),
		OperationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "operation_duration_seconds",
			Help:      "Duration of extraction operations",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		}),
		MatchesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "matches_extracted_total",
			Help:      "Total number of matches stored by the engine",
		}),
		ActiveOperations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "active_operations",
			Help:      "Number of extraction workers currently running",
		}),
		HistoryPersistErrs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "history_persist_failures_total",
			Help:      "Total number of failed history file writes",
		}),
		SchedulesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "schedules_fired_total",
			Help:      "Total number of scheduled extractions dispatched",
		}, []string{"kind", "result"}),
	}
}
