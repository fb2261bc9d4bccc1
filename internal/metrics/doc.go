// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for:
//   - Planner runs, databases planned or skipped, and work items sent
//   - Cleaner invocations, per-table outcomes, and delete batch latency
//   - Glue catalog call latency broken down by operation and status
//   - Object store operation latency and bytes transferred (failure reports)
//   - Queue backlog (pending and in-flight work items)
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus format.
//
// Usage:
//
//	plannerMetrics := metrics.NewPlannerMetrics()
//	catalogMetrics := metrics.NewCatalogMetrics()
//
//	cat := catalog.New(glueClient, catalog.Options{Metrics: catalogMetrics})
//	p := planner.New(cat, sender, store, planner.Options{Metrics: plannerMetrics})
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Namespace prefixes every metric name.
const Namespace = "versiongc"

// StatusSuccess is the status label value for successful operations.
const StatusSuccess = "success"

// StatusFailure is the status label value for failed operations.
const StatusFailure = "failure"

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
