// Package metrics holds one Prometheus metrics struct per component,
// registered via promauto against an injected registerer so tests can use
// an isolated registry instead of the global default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DatabaseMetrics covers the control-plane connection pool, exported by
// internal/database/postgres's PrometheusExporter.
type DatabaseMetrics struct {
	ConnectionsActive             prometheus.Gauge
	ConnectionsIdle               prometheus.Gauge
	ConnectionWaitDurationSeconds prometheus.Histogram
	QueryDurationSeconds          *prometheus.HistogramVec
	QueriesTotal                  *prometheus.CounterVec
	ErrorsTotal                   *prometheus.CounterVec
}

// NewDatabaseMetrics registers the control-plane pool metrics against reg.
func NewDatabaseMetrics(reg prometheus.Registerer) *DatabaseMetrics {
	factory := promauto.With(reg)
	return &DatabaseMetrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "connections_active",
			Help:      "Active control-plane pool connections.",
		}),
		ConnectionsIdle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Idle control-plane pool connections.",
		}),
		ConnectionWaitDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "connection_wait_duration_seconds",
			Help:      "Time spent waiting to acquire a control-plane pool connection.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Control-plane query duration by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "queries_total",
			Help:      "Control-plane queries by operation and outcome.",
		}, []string{"operation", "status"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor",
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Control-plane pool errors by kind.",
		}, []string{"kind"}),
	}
}
