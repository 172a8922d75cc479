package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation outcomes used as the "outcome" label
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomePushed    = "pushed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Identity provider metrics
	IdPRequestsTotal   *prometheus.CounterVec
	IdPRequestDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ReconcileTotal     *prometheus.CounterVec
	ReconcileConflicts prometheus.Counter
	PushTotal          *prometheus.CounterVec

	// Sweep metrics
	SweepsTotal      *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	SweepUsersTotal  *prometheus.CounterVec
	SweepLastSuccess prometheus.Gauge
	SweepInProgress  prometheus.Gauge

	// Connection metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	SessionsCreated     prometheus.Counter

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usersync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usersync_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_store_operations_total",
				Help: "Total number of local user store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usersync_store_operation_duration_seconds",
				Help:    "Local user store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"operation"},
		),

		IdPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_idp_requests_total",
				Help: "Total number of identity provider admin API requests",
			},
			[]string{"operation", "status"},
		),
		IdPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usersync_idp_request_duration_seconds",
				Help:    "Identity provider admin API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_reconcile_total",
				Help: "Total number of token reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "usersync_reconcile_conflicts_total",
				Help: "Duplicate-key rejections retried during first-time creation",
			},
		),
		PushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_push_total",
				Help: "Total number of attribute pushes to the identity provider by outcome",
			},
			[]string{"outcome"},
		),

		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_sweeps_total",
				Help: "Total number of bulk reconciliation sweeps",
			},
			[]string{"trigger"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "usersync_sweep_duration_seconds",
				Help:    "Bulk reconciliation sweep duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
			},
		),
		SweepUsersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersync_sweep_users_total",
				Help: "Users processed by bulk sweeps by result",
			},
			[]string{"result"},
		),
		SweepLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "usersync_sweep_last_completed_timestamp_seconds",
				Help: "Unix time the last sweep completed",
			},
		),
		SweepInProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "usersync_sweep_in_progress",
				Help: "1 while a sweep is running",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "usersync_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "usersync_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "usersync_sessions_created_total",
				Help: "Total number of sessions issued",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.IdPRequestsTotal,
		m.IdPRequestDuration,
		m.ReconcileTotal,
		m.ReconcileConflicts,
		m.PushTotal,
		m.SweepsTotal,
		m.SweepDuration,
		m.SweepUsersTotal,
		m.SweepLastSuccess,
		m.SweepInProgress,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.SessionsCreated,
	)

	return m
}

// WithOTel mirrors reconciliation, push, IdP and sweep metrics to o
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	if m != nil {
		m.otel = o
	}
	return m
}

// RecordReconcile counts one reconciliation. Safe on a nil receiver.
func (m *Metrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	if m.otel != nil {
		m.otel.recordReconcile(context.Background(), outcome)
	}
}

// RecordConflict counts one retried duplicate-key rejection
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.ReconcileConflicts.Inc()
}

// RecordPush counts one attribute push
func (m *Metrics) RecordPush(outcome string) {
	if m == nil {
		return
	}
	m.PushTotal.WithLabelValues(outcome).Inc()
	if m.otel != nil {
		m.otel.recordPush(context.Background(), outcome)
	}
}

// RecordStoreOperation records the outcome and latency of a store call
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordIdPRequest records the outcome and latency of an admin API call
func (m *Metrics) RecordIdPRequest(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.IdPRequestsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.IdPRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.recordIdPRequest(context.Background(), operation, duration, err)
	}
}

// SweepStarted marks a sweep as running
func (m *Metrics) SweepStarted(trigger string) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(trigger).Inc()
	m.SweepInProgress.Set(1)
}

// SweepFinished records the result of a sweep
func (m *Metrics) SweepFinished(duration time.Duration, succeeded, failed int) {
	if m == nil {
		return
	}
	m.SweepInProgress.Set(0)
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepUsersTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	m.SweepUsersTotal.WithLabelValues("failed").Add(float64(failed))
	m.SweepLastSuccess.SetToCurrentTime()
	if m.otel != nil {
		m.otel.recordSweep(context.Background(), duration, succeeded, failed)
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// RouteLabeler returns the label used for a request path. Servers using
// path parameters pass one that returns the route template, keeping the
// label cardinality bounded.
type RouteLabeler func(r *http.Request) string

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics, label RouteLabeler) func(http.Handler) http.Handler {
	if label == nil {
		label = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := label(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
