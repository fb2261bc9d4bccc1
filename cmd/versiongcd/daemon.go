package main

import (
	"time"

	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/metrics"
	"github.com/versiongc/versiongc/internal/server"
)

const queueScanInterval = 30 * time.Second

// daemon is the observability surface of a long-running command: /metrics,
// /healthz and /readyz on one listener, plus the queue backlog scanner.
type daemon struct {
	logger  *logging.Logger
	health  *server.HealthServer
	metrics *metrics.Server
	scanner *metrics.QueueBacklogScanner
}

// startDaemon starts serving on cfg.Observability.MetricsAddr. depth may be
// nil when the queue backend cannot report its backlog.
func startDaemon(cfg *config.Config, logger *logging.Logger, depth metrics.DepthProvider, checks ...server.ReadinessChecker) (*daemon, error) {
	d := &daemon{
		logger:  logger,
		health:  server.NewHealthServer(cfg.Observability.MetricsAddr, logger),
		metrics: metrics.NewServer(cfg.Observability.MetricsAddr),
	}

	for _, c := range checks {
		d.health.RegisterReadinessCheck(c)
	}
	if depth != nil {
		d.health.RegisterReadinessCheck(server.NewQueueChecker(depth.Depth))
		d.scanner = metrics.NewQueueBacklogScanner(metrics.NewQueueMetrics(), depth, queueScanInterval)
	}

	probes := d.health.Handler()
	d.metrics.Handle("/healthz", probes)
	d.metrics.Handle("/readyz", probes)
	if err := d.metrics.Start(); err != nil {
		return nil, err
	}
	logger.Infof("observability server listening", map[string]any{"addr": d.metrics.Addr()})

	if d.scanner != nil {
		d.scanner.Start()
	}
	return d, nil
}

// shuttingDown makes both probes fail while work drains.
func (d *daemon) shuttingDown() {
	d.health.SetShuttingDown()
}

// close stops the scanner and the listener.
func (d *daemon) close() {
	if d.scanner != nil {
		d.scanner.Stop()
	}
	if err := d.metrics.Close(); err != nil {
		d.logger.Warnf("failed to close observability server", map[string]any{"error": err.Error()})
	}
}
