package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/report"
	"github.com/versiongc/versiongc/internal/tracking"
)

const dateLayout = "2006-01-02"

func newReportCmd() *cobra.Command {
	var (
		batchID int64
		date    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show what a planner batch sent and what the cleaner did with it",
		Long: `Print tracking rows as tables.

--batch-id prints the planner records and cleanup outcomes of one batch.
--failures-date prints the version deletion failures reported on one day
(requires report.bucket).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batchID <= 0 && date == "" {
				return errors.New("one of --batch-id or --failures-date is required")
			}
			return runReport(cmd, batchID, date)
		},
	}
	cmd.Flags().Int64Var(&batchID, "batch-id", 0, "Planner batch id (milliseconds since epoch)")
	cmd.Flags().StringVar(&date, "failures-date", "", "Day of failure reports to print (YYYY-MM-DD, UTC)")
	return cmd
}

func runReport(cmd *cobra.Command, batchID int64, date string) error {
	path := configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnv)
	}
	cfg, err := config.LoadFromPathNoValidate(path, config.RoleCleaner)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg)

	ctx := cmd.Context()
	d, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return fail(logger, "failed to load aws config", err)
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	if batchID > 0 {
		if err := printBatch(ctx, out, d.tracking(), batchID); err != nil {
			return err
		}
	}
	if date != "" {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return fmt.Errorf("invalid --failures-date %q: %w", date, err)
		}
		w, err := d.reports()
		if err != nil {
			return err
		}
		if w == nil {
			return errors.New("report.bucket is not configured")
		}
		failures, err := w.ReadDay(ctx, day)
		if err != nil {
			return fmt.Errorf("read failure reports: %w", err)
		}
		fmt.Fprintf(out, "Version deletion failures on %s\n", date)
		renderFailures(out, failures)
	}
	return nil
}

// batchReader is the read side of tracking.Store.
type batchReader interface {
	PlannerRecords(ctx context.Context, batchID int64) ([]tracking.PlannerRecord, error)
	CleanupOutcomes(ctx context.Context, batchID int64) ([]tracking.CleanupOutcome, error)
}

func printBatch(ctx context.Context, out io.Writer, r batchReader, batchID int64) error {
	records, err := r.PlannerRecords(ctx, batchID)
	if err != nil {
		return fmt.Errorf("read planner records: %w", err)
	}
	outcomes, err := r.CleanupOutcomes(ctx, batchID)
	if err != nil {
		return fmt.Errorf("read cleanup outcomes: %w", err)
	}

	fmt.Fprintf(out, "Planner batch %d (%s)\n", batchID, time.UnixMilli(batchID).UTC().Format(time.RFC3339))
	renderPlannerRecords(out, records)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Cleanup outcomes for batch %d\n", batchID)
	renderOutcomes(out, outcomes)
	return nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(out)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	return t
}

func renderPlannerRecords(out io.Writer, records []tracking.PlannerRecord) {
	t := newTable(out, []string{"DATABASE", "TABLE", "SENT AT"})
	for _, r := range records {
		t.Append([]string{r.DatabaseName, r.TableName, r.MessageSentTime})
	}
	t.SetFooter([]string{"", "TOTAL", strconv.Itoa(len(records))})
	t.Render()
}

func renderOutcomes(out io.Writer, outcomes []tracking.CleanupOutcome) {
	t := newTable(out, []string{"EXECUTION ID", "DATABASE", "TABLE", "BEFORE", "RETAINED", "DELETED"})
	var deleted int
	for _, o := range outcomes {
		t.Append([]string{
			strconv.FormatInt(o.ExecutionID, 10),
			o.DatabaseName,
			o.TableName,
			strconv.Itoa(o.VersionsBefore),
			strconv.Itoa(o.VersionsRetained),
			strconv.Itoa(o.VersionsDeleted),
		})
		deleted += o.VersionsDeleted
	}
	t.SetFooter([]string{"", "", "", "", "TOTAL", strconv.Itoa(deleted)})
	t.Render()
}

func renderFailures(out io.Writer, failures []report.Failure) {
	t := newTable(out, []string{"EXECUTION ID", "BATCH ID", "DATABASE", "TABLE", "VERSION", "CODE", "MESSAGE"})
	for _, f := range failures {
		t.Append([]string{
			strconv.FormatInt(f.ExecutionID, 10),
			strconv.FormatInt(f.BatchID, 10),
			f.DatabaseName,
			f.TableName,
			f.VersionID,
			f.ErrorCode,
			f.ErrorMessage,
		})
	}
	t.Render()
}
