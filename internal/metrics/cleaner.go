package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CleanerMetrics holds metrics for cleaner invocations.
type CleanerMetrics struct {
	// InvocationDuration tracks Process duration in seconds.
	// Labels: status (success, failure)
	InvocationDuration *prometheus.HistogramVec

	// TablesTotal counts work items by outcome.
	// Labels: outcome (cleaned, below_threshold, malformed, lease_held, failed)
	TablesTotal *prometheus.CounterVec

	// VersionsDeletedTotal counts table versions deleted.
	VersionsDeletedTotal prometheus.Counter

	// VersionsFailedTotal counts table versions the catalog refused to delete.
	VersionsFailedTotal prometheus.Counter

	// DeleteBatchLatency tracks BatchDeleteTableVersion latency.
	// Labels: status (success, failure)
	DeleteBatchLatency *prometheus.HistogramVec
}

type cleanerCollectors struct {
	invocation prometheus.HistogramOpts
	tables     prometheus.CounterOpts
	deleted    prometheus.CounterOpts
	failed     prometheus.CounterOpts
	batch      prometheus.HistogramOpts
}

func cleanerOpts() cleanerCollectors {
	return cleanerCollectors{
		invocation: prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "cleaner",
			Name:      "invocation_duration_seconds",
			Help:      "Cleaner invocation duration in seconds, broken down by status.",
			Buckets:   DefaultRunDurationBuckets,
		},
		tables: prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cleaner",
			Name:      "tables_total",
			Help:      "Work items handled by the cleaner, broken down by outcome.",
		},
		deleted: prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cleaner",
			Name:      "versions_deleted_total",
			Help:      "Total number of table versions deleted.",
		},
		failed: prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cleaner",
			Name:      "versions_failed_total",
			Help:      "Total number of table versions the catalog failed to delete.",
		},
		batch: prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "cleaner",
			Name:      "delete_batch_latency_seconds",
			Help:      "BatchDeleteTableVersion latency in seconds, broken down by status.",
			Buckets:   DefaultCatalogLatencyBuckets,
		},
	}
}

// NewCleanerMetrics creates and registers cleaner metrics with the default registry.
func NewCleanerMetrics() *CleanerMetrics {
	o := cleanerOpts()
	return &CleanerMetrics{
		InvocationDuration:   promauto.NewHistogramVec(o.invocation, []string{"status"}),
		TablesTotal:          promauto.NewCounterVec(o.tables, []string{"outcome"}),
		VersionsDeletedTotal: promauto.NewCounter(o.deleted),
		VersionsFailedTotal:  promauto.NewCounter(o.failed),
		DeleteBatchLatency:   promauto.NewHistogramVec(o.batch, []string{"status"}),
	}
}

// NewCleanerMetricsWithRegistry creates cleaner metrics registered with reg.
func NewCleanerMetricsWithRegistry(reg prometheus.Registerer) *CleanerMetrics {
	o := cleanerOpts()
	m := &CleanerMetrics{
		InvocationDuration:   prometheus.NewHistogramVec(o.invocation, []string{"status"}),
		TablesTotal:          prometheus.NewCounterVec(o.tables, []string{"outcome"}),
		VersionsDeletedTotal: prometheus.NewCounter(o.deleted),
		VersionsFailedTotal:  prometheus.NewCounter(o.failed),
		DeleteBatchLatency:   prometheus.NewHistogramVec(o.batch, []string{"status"}),
	}
	reg.MustRegister(m.InvocationDuration, m.TablesTotal, m.VersionsDeletedTotal, m.VersionsFailedTotal, m.DeleteBatchLatency)
	return m
}

// RecordTable records the outcome of one work item.
func (m *CleanerMetrics) RecordTable(outcome string, versionsDeleted, versionsFailed int) {
	m.TablesTotal.WithLabelValues(outcome).Inc()
	if versionsDeleted > 0 {
		m.VersionsDeletedTotal.Add(float64(versionsDeleted))
	}
	if versionsFailed > 0 {
		m.VersionsFailedTotal.Add(float64(versionsFailed))
	}
}

// RecordDeleteBatch records one bulk delete call.
func (m *CleanerMetrics) RecordDeleteBatch(durationSeconds float64, success bool) {
	m.DeleteBatchLatency.WithLabelValues(statusLabel(success)).Observe(durationSeconds)
}

// RecordInvocation records one Process call.
func (m *CleanerMetrics) RecordInvocation(durationSeconds float64, success bool) {
	m.InvocationDuration.WithLabelValues(statusLabel(success)).Observe(durationSeconds)
}
