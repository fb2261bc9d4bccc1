package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Persistent flags shared by every command.
var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "versiongcd",
		Short: "Expire old AWS Glue table versions",
		Long: `versiongcd keeps the newest table versions of every Glue table and deletes the rest.

The planner lists databases and tables and queues one work item per table.
The cleaner consumes work items and deletes versions beyond the retention count.
Both jobs run once from the command line, as long-running daemons, or as Lambda handlers.`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", version, buildTime, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: $VERSIONGC_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (json, text)")

	root.AddCommand(
		newPlanCmd(),
		newCleanCmd(),
		newScheduleCmd(),
		newLambdaCmd(),
		newReportCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "versiongcd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}
