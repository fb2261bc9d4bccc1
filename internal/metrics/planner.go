package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PlannerMetrics holds metrics for planner runs.
type PlannerMetrics struct {
	// RunDuration tracks planner run duration in seconds.
	// Labels: status (success, failure)
	RunDuration *prometheus.HistogramVec

	// LastRunTimestamp is the unix time of the last finished run.
	LastRunTimestamp prometheus.Gauge

	// DatabasesTotal counts databases considered.
	// Labels: result (planned, skipped)
	DatabasesTotal *prometheus.CounterVec

	// MessagesTotal counts work items by send status.
	// Labels: status (success, failure)
	MessagesTotal *prometheus.CounterVec
}

// Database result label values.
const (
	DatabasePlanned = "planned"
	DatabaseSkipped = "skipped"
)

// DefaultRunDurationBuckets cover runs from a second to half an hour.
var DefaultRunDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800}

type plannerCollectors struct {
	run       prometheus.HistogramOpts
	last      prometheus.GaugeOpts
	databases prometheus.CounterOpts
	messages  prometheus.CounterOpts
}

func plannerOpts() plannerCollectors {
	return plannerCollectors{
		run: prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "planner",
			Name:      "run_duration_seconds",
			Help:      "Planner run duration in seconds, broken down by status.",
			Buckets:   DefaultRunDurationBuckets,
		},
		last: prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "planner",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished planner run.",
		},
		databases: prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "planner",
			Name:      "databases_total",
			Help:      "Databases considered by the planner, broken down by result (planned/skipped).",
		},
		messages: prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "planner",
			Name:      "messages_total",
			Help:      "Work items sent by the planner, broken down by status.",
		},
	}
}

// NewPlannerMetrics creates and registers planner metrics with the default registry.
func NewPlannerMetrics() *PlannerMetrics {
	o := plannerOpts()
	return &PlannerMetrics{
		RunDuration:      promauto.NewHistogramVec(o.run, []string{"status"}),
		LastRunTimestamp: promauto.NewGauge(o.last),
		DatabasesTotal:   promauto.NewCounterVec(o.databases, []string{"result"}),
		MessagesTotal:    promauto.NewCounterVec(o.messages, []string{"status"}),
	}
}

// NewPlannerMetricsWithRegistry creates planner metrics registered with reg.
func NewPlannerMetricsWithRegistry(reg prometheus.Registerer) *PlannerMetrics {
	o := plannerOpts()
	m := &PlannerMetrics{
		RunDuration:      prometheus.NewHistogramVec(o.run, []string{"status"}),
		LastRunTimestamp: prometheus.NewGauge(o.last),
		DatabasesTotal:   prometheus.NewCounterVec(o.databases, []string{"result"}),
		MessagesTotal:    prometheus.NewCounterVec(o.messages, []string{"status"}),
	}
	reg.MustRegister(m.RunDuration, m.LastRunTimestamp, m.DatabasesTotal, m.MessagesTotal)
	return m
}

// RecordDatabase counts one database.
func (m *PlannerMetrics) RecordDatabase(skipped bool) {
	result := DatabasePlanned
	if skipped {
		result = DatabaseSkipped
	}
	m.DatabasesTotal.WithLabelValues(result).Inc()
}

// RecordMessage counts one work item send.
func (m *PlannerMetrics) RecordMessage(sent bool) {
	m.MessagesTotal.WithLabelValues(statusLabel(sent)).Inc()
}

// RecordRun records a finished run.
func (m *PlannerMetrics) RecordRun(durationSeconds float64, success bool) {
	m.RunDuration.WithLabelValues(statusLabel(success)).Observe(durationSeconds)
	m.LastRunTimestamp.SetToCurrentTime()
}
