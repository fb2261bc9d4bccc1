package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/versiongc/versiongc/internal/cleaner"
	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/server"
)

const cleanerLoop = "cleaner"

func newCleanCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Consume work items and delete expired table versions",
		Long: `Run the cleaner.

By default the cleaner polls the queue until interrupted, serving metrics and
health probes on observability.metricsAddr. With --once it processes a single
batch of messages and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClean(cmd, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process one batch of messages and exit")
	return cmd
}

func runClean(cmd *cobra.Command, once bool) error {
	cfg, err := loadConfig(config.RoleCleaner)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return fail(logger, "failed to load aws config", err)
	}
	defer d.Close()

	c, err := d.cleaner(ctx)
	if err != nil {
		return fail(logger, "failed to create cleaner", err)
	}
	r, err := d.receiver()
	if err != nil {
		return fail(logger, "failed to open queue", err)
	}

	if once {
		res, err := cleaner.NewWorker(c, r, cleaner.WorkerConfig{}).RunOnce(ctx)
		if err != nil {
			return fail(logger, "cleanup failed", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.String())
		return nil
	}

	var checks []server.ReadinessChecker
	if d.reportStore != nil {
		checks = append(checks, server.NewObjectStoreChecker(d.reportStore, cfg.Report.Prefix))
	}
	dm, err := startDaemon(cfg, logger, d.depth, checks...)
	if err != nil {
		return fail(logger, "failed to start observability server", err)
	}
	dm.health.SetStaleAfter(cleanerStaleAfter(cfg))
	dm.health.RegisterLoop(cleanerLoop)

	w := cleaner.NewWorker(c, r, cleaner.WorkerConfig{
		PollIntervalMs: cfg.Cleaner.PollIntervalMs,
		Heartbeat:      func() { dm.health.Heartbeat(cleanerLoop) },
	})
	w.Start()
	logger.Infof("cleaner started", map[string]any{
		"backend":          cfg.Queue.Backend,
		"versionsToRetain": cfg.Cleaner.VersionsToRetain,
		"leases":           cfg.Lease.Enabled,
	})

	<-ctx.Done()
	logger.Info("initiating graceful shutdown")
	dm.shuttingDown()
	w.Stop()
	dm.health.UnregisterLoop(cleanerLoop)
	dm.close()
	logger.Info("cleaner shutdown complete")
	return nil
}

// cleanerStaleAfter bounds how long one batch may run before the loop is
// reported unhealthy: a full visibility timeout plus the poll interval.
func cleanerStaleAfter(cfg *config.Config) time.Duration {
	d := time.Duration(cfg.Queue.SQS.VisibilityTimeoutSeconds)*time.Second +
		time.Duration(cfg.Cleaner.PollIntervalMs)*time.Millisecond
	return max(d, server.DefaultStaleAfter)
}
