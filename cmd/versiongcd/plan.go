package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/versiongc/versiongc/internal/config"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Queue one work item per table and exit",
		Long: `Run the planner once.

Every database in the catalog, or only those named in planner.databaseNames,
is listed. One work item is sent per table and recorded in the planner
tracking table under a new batch id.`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(config.RolePlanner)
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

	p, err := d.planner(ctx)
	if err != nil {
		return fail(logger, "failed to create planner", err)
	}

	sum, err := p.Run(ctx)
	if err != nil {
		return fail(logger, "planner run failed", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum.String())
	return nil
}
