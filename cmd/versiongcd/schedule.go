package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/logging"
)

const plannerLoop = "planner"

func newScheduleCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the planner on a fixed interval",
		Long: `Run the planner immediately and then every planner.scheduleIntervalMs
until interrupted. A run that overlaps the next due time delays it instead of
running concurrently.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override planner.scheduleIntervalMs (e.g. 6h)")
	return cmd
}

func runSchedule(cmd *cobra.Command, interval time.Duration) error {
	cfg, err := loadConfig(config.RolePlanner)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg)
	if interval <= 0 {
		interval = time.Duration(cfg.Planner.ScheduleIntervalMs) * time.Millisecond
	}
	if interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", interval)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return fail(logger, "failed to load aws config", err)
	}
	defer d.Close()

	p, err := d.planner(ctx)
	if err != nil {
		return fail(logger, "failed to create planner", err)
	}

	dm, err := startDaemon(cfg, logger, d.depth)
	if err != nil {
		return fail(logger, "failed to start observability server", err)
	}
	dm.health.SetStaleAfter(2*interval + time.Minute)
	dm.health.RegisterLoop(plannerLoop)

	job := func(ctx context.Context) {
		defer dm.health.Heartbeat(plannerLoop)
		sum, err := p.Run(ctx)
		if err != nil {
			logger.Errorf("planner run failed", map[string]any{"error": err.Error(), "batchId": sum.BatchID})
			return
		}
		logger.Info(sum.String())
	}

	err = schedulePlanner(ctx, interval, job, logger)
	dm.shuttingDown()
	dm.health.UnregisterLoop(plannerLoop)
	dm.close()
	if err != nil {
		return fail(logger, "scheduler failed", err)
	}
	logger.Info("scheduler shutdown complete")
	return nil
}

// schedulePlanner runs job now and every interval after until ctx is done.
// Runs never overlap; a late run pushes the next one back.
func schedulePlanner(ctx context.Context, interval time.Duration, job func(context.Context), logger *logging.Logger) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { job(ctx) }),
		gocron.WithName(plannerLoop),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule planner: %w", err)
	}

	s.Start()
	logger.Infof("planner scheduled", map[string]any{"interval": interval.String()})

	<-ctx.Done()
	logger.Info("stopping scheduler")
	return s.Shutdown()
}
