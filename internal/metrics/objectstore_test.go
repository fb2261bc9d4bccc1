package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestObjectStoreMetrics_NewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	if m.LatencyHistogram == nil || m.RequestsTotal == nil || m.BytesTotal == nil {
		t.Fatal("collectors should not be nil")
	}

	// Vec collectors are not gathered until they have observations.
	m.RecordPut(0.01, true, 100)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(mfs) != 3 {
		t.Errorf("Expected 3 metric families, got %d", len(mfs))
	}
}

func TestObjectStoreMetrics_RecordPut(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordPut(0.1, true, 1024)
	m.RecordPut(0.2, false, 512)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	latencyMF := findMetricFamily(mfs, "versiongc_objectstore_operation_latency_seconds")
	if latencyMF == nil {
		t.Fatal("versiongc_objectstore_operation_latency_seconds not found")
	}
	if len(latencyMF.Metric) != 2 {
		t.Errorf("Expected 2 latency metrics (success/failure), got %d", len(latencyMF.Metric))
	}

	requestsMF := findMetricFamily(mfs, "versiongc_objectstore_operations_total")
	if requestsMF == nil {
		t.Fatal("versiongc_objectstore_operations_total not found")
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjPut, "status": StatusSuccess}); v != 1 {
		t.Errorf("Expected 1 success put, got %f", v)
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjPut, "status": StatusFailure}); v != 1 {
		t.Errorf("Expected 1 failure put, got %f", v)
	}

	// Failed puts do not count bytes.
	bytesMF := findMetricFamily(mfs, "versiongc_objectstore_bytes_total")
	if bytesMF == nil {
		t.Fatal("versiongc_objectstore_bytes_total not found")
	}
	if v := getCounterValue(bytesMF, map[string]string{"direction": DirectionWrite}); v != 1024 {
		t.Errorf("Expected 1024 bytes written, got %f", v)
	}
}

func TestObjectStoreMetrics_RecordGet(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordGet(0.05, true, 2048)
	m.RecordGet(0.15, false, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	requestsMF := findMetricFamily(mfs, "versiongc_objectstore_operations_total")
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjGet, "status": StatusSuccess}); v != 1 {
		t.Errorf("Expected 1 success get, got %f", v)
	}
	if v := getCounterValue(requestsMF, map[string]string{"operation": OpObjGet, "status": StatusFailure}); v != 1 {
		t.Errorf("Expected 1 failure get, got %f", v)
	}

	bytesMF := findMetricFamily(mfs, "versiongc_objectstore_bytes_total")
	if v := getCounterValue(bytesMF, map[string]string{"direction": DirectionRead}); v != 2048 {
		t.Errorf("Expected 2048 bytes read, got %f", v)
	}
}

func TestObjectStoreMetrics_OtherOperations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordList(0.05, true)
	m.RecordList(0.07, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	requestsMF := findMetricFamily(mfs, "versiongc_objectstore_operations_total")
	tests := []struct {
		op     string
		status string
		want   float64
	}{
		{OpObjList, StatusSuccess, 1},
		{OpObjList, StatusFailure, 1},
		{OpObjGet, StatusSuccess, 0},
	}
	for _, tt := range tests {
		if v := getCounterValue(requestsMF, map[string]string{"operation": tt.op, "status": tt.status}); v != tt.want {
			t.Errorf("%s/%s = %f, want %f", tt.op, tt.status, v, tt.want)
		}
	}
}

func TestObjectStoreMetrics_LatencyBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordPut(0.005, true, 100)
	m.RecordPut(0.05, true, 100)
	m.RecordPut(5.0, true, 100)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	latencyMF := findMetricFamily(mfs, "versiongc_objectstore_operation_latency_seconds")
	if latencyMF == nil {
		t.Fatal("versiongc_objectstore_operation_latency_seconds not found")
	}
	for _, metric := range latencyMF.Metric {
		if metric.Histogram == nil {
			continue
		}
		if got, want := len(metric.Histogram.Bucket), len(DefaultObjectStoreLatencyBuckets); got != want {
			t.Errorf("Expected %d buckets, got %d", want, got)
		}
		if metric.Histogram.GetSampleCount() != 3 {
			t.Errorf("Expected 3 samples, got %d", metric.Histogram.GetSampleCount())
		}
	}
}

func TestObjectStoreMetrics_ZeroBytesNotRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewObjectStoreMetricsWithRegistry(reg)

	m.RecordPut(0.01, true, 0)
	m.RecordGet(0.01, true, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if findMetricFamily(mfs, "versiongc_objectstore_bytes_total") != nil {
		t.Error("bytes_total should have no series")
	}
}

// Helper to find a metric family by name
func findMetricFamily(mfs []*io_prometheus_client.MetricFamily, name string) *io_prometheus_client.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

// Helper to get counter value with specific labels
func getCounterValue(mf *io_prometheus_client.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) {
			if metric.Counter != nil {
				return metric.Counter.GetValue()
			}
		}
	}
	return 0
}

// Helper to get histogram sample count with specific labels
func getHistogramCount(mf *io_prometheus_client.MetricFamily, labels map[string]string) uint64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.Metric {
		if matchLabels(metric.Label, labels) && metric.Histogram != nil {
			return metric.Histogram.GetSampleCount()
		}
	}
	return 0
}

// Helper to check if metric labels match expected labels
func matchLabels(metricLabels []*io_prometheus_client.LabelPair, expected map[string]string) bool {
	if len(metricLabels) != len(expected) {
		return false
	}
	for _, lp := range metricLabels {
		if expected[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// getGaugeValue extracts the current value of an unlabeled gauge from the registry.
func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			if metrics := family.GetMetric(); len(metrics) > 0 {
				return metrics[0].GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
