package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/versiongc/versiongc/internal/cleaner"
	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/planner"
	"github.com/versiongc/versiongc/internal/queue"
)

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda {planner|cleaner}",
		Short: "Serve a job as an AWS Lambda function",
		Long: `Serve the planner or the cleaner as an AWS Lambda handler.

The planner is invoked on a schedule with an empty event. The cleaner is
invoked by an SQS event source mapping; a failed invocation returns an error
so the whole batch becomes visible again.

Configuration is read from the function environment (region, ddb_table_name, ...).`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(config.RolePlanner), string(config.RoleCleaner)},
		RunE:      runLambda,
	}
}

func runLambda(cmd *cobra.Command, args []string) error {
	role := config.Role(args[0])
	cfg, err := loadConfig(role)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg)

	// Clients are built once per execution environment and reused across
	// invocations.
	ctx := cmd.Context()
	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return fail(logger, "failed to load aws config", err)
	}
	defer d.Close()

	switch role {
	case config.RolePlanner:
		p, err := d.planner(ctx)
		if err != nil {
			return fail(logger, "failed to create planner", err)
		}
		lambda.Start(plannerHandler(p))
	case config.RoleCleaner:
		c, err := d.cleaner(ctx)
		if err != nil {
			return fail(logger, "failed to create cleaner", err)
		}
		lambda.Start(cleanerHandler(c))
	}
	return nil
}

func plannerHandler(p *planner.Planner) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		sum, err := p.Run(ctx)
		if err != nil {
			return "", err
		}
		return sum.String(), nil
	}
}

func cleanerHandler(c *cleaner.Cleaner) func(context.Context, events.SQSEvent) (string, error) {
	return func(ctx context.Context, ev events.SQSEvent) (string, error) {
		res, err := c.Process(ctx, queue.FromSQSEvent(ev))
		if err != nil {
			return "", err
		}
		return res.String(), nil
	}
}
