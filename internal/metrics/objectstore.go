package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to object store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks object store operation latencies broken down by operation and status.
	// Labels: operation (put, get, list), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total object store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// BytesTotal tracks total bytes transferred by direction.
	// Labels: direction (read, write)
	BytesTotal *prometheus.CounterVec
}

// Object store operation label values.
const (
	OpObjPut  = "put"
	OpObjGet  = "get"
	OpObjList = "list"
)

// Bytes direction label values.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for S3 operations.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
}

func objectStoreOpts() (prometheus.HistogramOpts, prometheus.CounterOpts, prometheus.CounterOpts) {
	return prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "operation_latency_seconds",
			Help:      "Object store operation latency in seconds, broken down by operation and status.",
			Buckets:   DefaultObjectStoreLatencyBuckets,
		}, prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "operations_total",
			Help:      "Total number of object store operations, broken down by operation and status.",
		}, prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "objectstore",
			Name:      "bytes_total",
			Help:      "Total bytes transferred by direction (read/write).",
		}
}

// NewObjectStoreMetrics creates and registers object store metrics.
// Uses promauto for automatic registration with the default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	latency, requests, bytes := objectStoreOpts()
	return &ObjectStoreMetrics{
		LatencyHistogram: promauto.NewHistogramVec(latency, []string{"operation", "status"}),
		RequestsTotal:    promauto.NewCounterVec(requests, []string{"operation", "status"}),
		BytesTotal:       promauto.NewCounterVec(bytes, []string{"direction"}),
	}
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	latency, requests, bytes := objectStoreOpts()
	m := &ObjectStoreMetrics{
		LatencyHistogram: prometheus.NewHistogramVec(latency, []string{"operation", "status"}),
		RequestsTotal:    prometheus.NewCounterVec(requests, []string{"operation", "status"}),
		BytesTotal:       prometheus.NewCounterVec(bytes, []string{"direction"}),
	}
	reg.MustRegister(m.LatencyHistogram, m.RequestsTotal, m.BytesTotal)
	return m
}

// RecordOperation records an object store operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPut records a Put operation. Bytes count only on success.
func (m *ObjectStoreMetrics) RecordPut(durationSeconds float64, success bool, bytes int64) {
	m.RecordOperation(OpObjPut, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesTotal.WithLabelValues(DirectionWrite).Add(float64(bytes))
	}
}

// RecordGet records a Get operation. Bytes count only on success.
func (m *ObjectStoreMetrics) RecordGet(durationSeconds float64, success bool, bytes int64) {
	m.RecordOperation(OpObjGet, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesTotal.WithLabelValues(DirectionRead).Add(float64(bytes))
	}
}

// RecordList records a List operation.
func (m *ObjectStoreMetrics) RecordList(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjList, durationSeconds, success)
}
