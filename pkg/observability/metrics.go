package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// All recording helpers are safe to call on a nil *Metrics so components can
// be constructed without instrumentation in tests.
type Metrics struct {
	// Sweep metrics
	SweepsTotal            *prometheus.CounterVec
	SweepDuration          prometheus.Histogram
	IdentitiesClaimedTotal prometheus.Counter
	TasksEnqueuedTotal     *prometheus.CounterVec

	// Task queue metrics
	TasksExecutedTotal *prometheus.CounterVec
	TasksExpiredTotal  *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationsTotal *prometheus.CounterVec
	ReconcileDuration    prometheus.Histogram
	ValidatorErrorsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_sweeps_total",
				Help: "Total number of verification sweeps",
			},
			[]string{"status"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authcheck_sweep_duration_seconds",
				Help:    "Verification sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		IdentitiesClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcheck_identities_claimed_total",
				Help: "Total number of identities claimed by sweeps",
			},
		),
		TasksEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_tasks_enqueued_total",
				Help: "Total number of tasks enqueued",
			},
			[]string{"task", "status"},
		),

		TasksExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_tasks_executed_total",
				Help: "Total number of tasks executed by workers",
			},
			[]string{"backend", "task", "status"},
		),
		TasksExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_tasks_expired_total",
				Help: "Total number of tasks dropped because they expired before running",
			},
			[]string{"backend", "task"},
		),

		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_reconciliations_total",
				Help: "Total number of identity reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authcheck_reconcile_duration_seconds",
				Help:    "Identity reconciliation duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		ValidatorErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcheck_validator_errors_total",
				Help: "Total number of validator failures treated as invalidation",
			},
			[]string{"provider"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcheck_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcheck_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcheck_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.SweepsTotal,
		m.SweepDuration,
		m.IdentitiesClaimedTotal,
		m.TasksEnqueuedTotal,
		m.TasksExecutedTotal,
		m.TasksExpiredTotal,
		m.ReconciliationsTotal,
		m.ReconcileDuration,
		m.ValidatorErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// RecordSweep records a finished sweep
func (m *Metrics) RecordSweep(status string, claimed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.IdentitiesClaimedTotal.Add(float64(claimed))
}

// RecordEnqueue records a single enqueue attempt
func (m *Metrics) RecordEnqueue(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TasksEnqueuedTotal.WithLabelValues(task, status).Inc()
}

// RecordTaskExecuted records a task that a worker ran
func (m *Metrics) RecordTaskExecuted(backend, task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TasksExecutedTotal.WithLabelValues(backend, task, status).Inc()
}

// RecordTaskExpired records a task dropped unexecuted
func (m *Metrics) RecordTaskExpired(backend, task string) {
	if m == nil {
		return
	}
	m.TasksExpiredTotal.WithLabelValues(backend, task).Inc()
}

// RecordReconciliation records the outcome of one reconciliation
func (m *Metrics) RecordReconciliation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDuration.Observe(duration.Seconds())
}

// RecordValidatorError records a validator failure for a provider key
func (m *Metrics) RecordValidatorError(provider string) {
	if m == nil {
		return
	}
	m.ValidatorErrorsTotal.WithLabelValues(provider).Inc()
}

// RecordDBStats copies connection pool statistics into gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
