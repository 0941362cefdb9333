// Package metrics exposes Prometheus collectors for the approval core.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/garyjia/approval-coordinator/internal/domain/apperr"
	"github.com/garyjia/approval-coordinator/internal/domain/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "approval"

// Metrics owns a registry and every collector registered on it
type Metrics struct {
	registry *prometheus.Registry

	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec

	unitsTotal    *prometheus.CounterVec
	unitDuration  *prometheus.HistogramVec
	unitsInFlight prometheus.Gauge

	lockAcquisitions *prometheus.CounterVec
	lockWait         prometheus.Histogram

	eventsTotal *prometheus.CounterVec

	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbWaitCount        prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		apiRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "path", "status"}),
		apiRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uow_units_total",
			Help:      "Units of work by outcome",
		}, []string{"outcome", "kind"}),
		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "uow_duration_seconds",
			Help:      "Unit of work duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		unitsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uow_in_flight",
			Help:      "Units of work currently executing",
		}),

		lockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Lock acquisition attempts by result",
		}, []string{"result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a request lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events published by type",
		}, []string{"type"}),

		dbConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_open",
			Help:      "Number of open database connections",
		}),
		dbConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_in_use",
			Help:      "Number of database connections in use",
		}),
		dbConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_idle",
			Help:      "Number of idle database connections",
		}),
		dbWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_wait_count",
			Help:      "Total number of connections waited for",
		}),
	}

	m.registry.MustRegister(
		m.apiRequestsTotal,
		m.apiRequestDuration,
		m.unitsTotal,
		m.unitDuration,
		m.unitsInFlight,
		m.lockAcquisitions,
		m.lockWait,
		m.eventsTotal,
		m.dbConnectionsOpen,
		m.dbConnectionsInUse,
		m.dbConnectionsIdle,
		m.dbWaitCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAPIRequest records one HTTP request
func (m *Metrics) RecordAPIRequest(method, path string, status int, duration time.Duration) {
	m.apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.apiRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateDatabaseStats copies connection pool statistics into gauges
func (m *Metrics) UpdateDatabaseStats(stats sql.DBStats) {
	m.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	m.dbConnectionsInUse.Set(float64(stats.InUse))
	m.dbConnectionsIdle.Set(float64(stats.Idle))
	m.dbWaitCount.Set(float64(stats.WaitCount))
}

// OnStart implements uow.Observer
func (m *Metrics) OnStart(int) {
	m.unitsInFlight.Inc()
}

// OnCommit implements uow.Observer
func (m *Metrics) OnCommit(_ int, elapsed time.Duration) {
	m.unitsInFlight.Dec()
	m.unitsTotal.WithLabelValues("commit", "").Inc()
	m.unitDuration.WithLabelValues("commit").Observe(elapsed.Seconds())
}

// OnRollback implements uow.Observer
func (m *Metrics) OnRollback(_ int, elapsed time.Duration, err error) {
	m.unitsInFlight.Dec()
	m.unitsTotal.WithLabelValues("rollback", string(apperr.KindOf(err))).Inc()
	m.unitDuration.WithLabelValues("rollback").Observe(elapsed.Seconds())
}

// OnAcquire implements lock.Observer
func (m *Metrics) OnAcquire(waited time.Duration, err error) {
	result := "acquired"
	if err != nil {
		result = string(apperr.KindOf(err))
	}
	m.lockAcquisitions.WithLabelValues(result).Inc()
	m.lockWait.Observe(waited.Seconds())
}

// Name implements dispatcher.Subscriber
func (m *Metrics) Name() string {
	return "metrics"
}

// Handle implements dispatcher.Subscriber by counting the event
func (m *Metrics) Handle(_ context.Context, evt *event.Event) error {
	m.eventsTotal.WithLabelValues(evt.Type.String()).Inc()
	return nil
}
