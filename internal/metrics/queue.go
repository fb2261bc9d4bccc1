package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/versiongc/versiongc/internal/logging"
)

// QueueMetrics holds work item backlog gauges.
type QueueMetrics struct {
	// PendingGauge tracks work items waiting to be received.
	PendingGauge prometheus.Gauge

	// InFlightGauge tracks work items received but not yet acknowledged.
	InFlightGauge prometheus.Gauge
}

func queueOpts() (prometheus.GaugeOpts, prometheus.GaugeOpts) {
	return prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "pending_messages",
			Help:      "Approximate number of work items waiting to be received.",
		}, prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "in_flight_messages",
			Help:      "Approximate number of work items received but not acknowledged.",
		}
}

// NewQueueMetrics creates and registers queue metrics with the default registry.
func NewQueueMetrics() *QueueMetrics {
	pending, inFlight := queueOpts()
	return &QueueMetrics{
		PendingGauge:  promauto.NewGauge(pending),
		InFlightGauge: promauto.NewGauge(inFlight),
	}
}

// NewQueueMetricsWithRegistry creates queue metrics registered with reg.
func NewQueueMetricsWithRegistry(reg prometheus.Registerer) *QueueMetrics {
	pending, inFlight := queueOpts()
	m := &QueueMetrics{
		PendingGauge:  prometheus.NewGauge(pending),
		InFlightGauge: prometheus.NewGauge(inFlight),
	}
	reg.MustRegister(m.PendingGauge, m.InFlightGauge)
	return m
}

// RecordDepth updates both backlog gauges.
func (m *QueueMetrics) RecordDepth(pending, inFlight int) {
	m.PendingGauge.Set(float64(pending))
	m.InFlightGauge.Set(float64(inFlight))
}

// DepthProvider reports the queue backlog.
type DepthProvider interface {
	Depth(ctx context.Context) (pending, inFlight int, err error)
}

// QueueBacklogScanner periodically polls a DepthProvider and updates metrics.
type QueueBacklogScanner struct {
	metrics  *QueueMetrics
	provider DepthProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewQueueBacklogScanner creates a scanner polling provider every interval.
func NewQueueBacklogScanner(metrics *QueueMetrics, provider DepthProvider, interval time.Duration) *QueueBacklogScanner {
	return &QueueBacklogScanner{
		metrics:  metrics,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic scanning.
func (s *QueueBacklogScanner) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts periodic scanning.
func (s *QueueBacklogScanner) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *QueueBacklogScanner) loop() {
	defer s.wg.Done()

	s.scanOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

func (s *QueueBacklogScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, inFlight, err := s.provider.Depth(ctx)
	if err != nil {
		logging.Warnf("queue backlog scan failed", map[string]any{"error": err})
		return
	}
	s.metrics.RecordDepth(pending, inFlight)
}

// ScanOnce triggers a single scan and updates metrics.
func (s *QueueBacklogScanner) ScanOnce() {
	s.scanOnce()
}
