// Package observability exposes Prometheus metrics for the HTTP server and
// the sync audit trail.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/precifica/precifica/internal/shared"
)

// Metrics collects application metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	syncOperations  *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precifica_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precifica_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	syncOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "precifica_ml_sync_operations_total",
		Help: "Marketplace sync operations by operation type and status.",
	}, []string{"operation", "status"})
	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precifica_ml_sync_duration_seconds",
		Help:    "Execution time of marketplace sync operations.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"operation"})
	registry.MustRegister(requests, duration, syncOps, syncDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		syncOperations:  syncOps,
		syncDuration:    syncDuration,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// SyncLogWriter is the audit sink decorated by CountSyncLogs.
type SyncLogWriter interface {
	Record(ctx context.Context, log shared.SyncLog) error
}

type countingSyncLog struct {
	next    SyncLogWriter
	metrics *Metrics
}

// CountSyncLogs wraps a sync log writer so every recorded operation is also
// counted. Rows that fail to persist are still counted.
func (m *Metrics) CountSyncLogs(next SyncLogWriter) SyncLogWriter {
	if m == nil {
		return next
	}
	return &countingSyncLog{next: next, metrics: m}
}

func (c *countingSyncLog) Record(ctx context.Context, log shared.SyncLog) error {
	c.metrics.syncOperations.WithLabelValues(log.OperationType, log.Status).Inc()
	if log.ExecutionTime > 0 {
		c.metrics.syncDuration.WithLabelValues(log.OperationType).Observe(log.ExecutionTime.Seconds())
	}
	return c.next.Record(ctx, log)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
