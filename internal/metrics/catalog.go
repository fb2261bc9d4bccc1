package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogMetrics holds metrics for Glue Data Catalog calls.
type CatalogMetrics struct {
	// LatencyHistogram tracks call latency.
	// Labels: operation (GetDatabases, GetTables, ...), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// CallsTotal counts calls by operation and status.
	CallsTotal *prometheus.CounterVec
}

// DefaultCatalogLatencyBuckets are latency buckets for Glue API calls.
var DefaultCatalogLatencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

func catalogOpts() (prometheus.HistogramOpts, prometheus.CounterOpts) {
	return prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "call_latency_seconds",
			Help:      "Glue Data Catalog call latency in seconds, broken down by operation and status.",
			Buckets:   DefaultCatalogLatencyBuckets,
		}, prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "catalog",
			Name:      "calls_total",
			Help:      "Total number of Glue Data Catalog calls, broken down by operation and status.",
		}
}

// NewCatalogMetrics creates and registers catalog metrics with the default registry.
func NewCatalogMetrics() *CatalogMetrics {
	latency, calls := catalogOpts()
	return &CatalogMetrics{
		LatencyHistogram: promauto.NewHistogramVec(latency, []string{"operation", "status"}),
		CallsTotal:       promauto.NewCounterVec(calls, []string{"operation", "status"}),
	}
}

// NewCatalogMetricsWithRegistry creates catalog metrics registered with reg.
func NewCatalogMetricsWithRegistry(reg prometheus.Registerer) *CatalogMetrics {
	latency, calls := catalogOpts()
	m := &CatalogMetrics{
		LatencyHistogram: prometheus.NewHistogramVec(latency, []string{"operation", "status"}),
		CallsTotal:       prometheus.NewCounterVec(calls, []string{"operation", "status"}),
	}
	reg.MustRegister(m.LatencyHistogram, m.CallsTotal)
	return m
}

// RecordCatalogCall records one Glue call.
func (m *CatalogMetrics) RecordCatalogCall(op string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.CallsTotal.WithLabelValues(op, status).Inc()
}
