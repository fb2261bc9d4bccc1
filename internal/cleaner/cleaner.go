// Package cleaner deletes the table versions beyond a retention count.
//
// The cleaner consumes work items produced by the planner. For each table it
// lists every version, keeps the VersionsToRetain numerically largest ids,
// deletes the rest in chunks of MaxVersionsPerBatch, and records the outcome
// in the cleanup tracking table. Messages are handled sequentially.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/versiongc/versiongc/internal/catalog"
	"github.com/versiongc/versiongc/internal/lease"
	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/queue"
	"github.com/versiongc/versiongc/internal/report"
	"github.com/versiongc/versiongc/internal/retention"
	"github.com/versiongc/versiongc/internal/tracking"
)

// ErrRetentionTooLow is returned when VersionsToRetain is below
// retention.MinVersionsToRetain.
var ErrRetentionTooLow = errors.New("cleaner: number of versions to retain is below the minimum")

// Table outcomes reported to MetricsRecorder.
const (
	OutcomeCleaned        = "cleaned"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeMalformed      = "malformed"
	OutcomeLeaseHeld      = "lease_held"
	OutcomeFailed         = "failed"
)

// Catalog lists and deletes table versions.
type Catalog interface {
	Deleter
	ListVersions(ctx context.Context, database, table string) ([]string, error)
}

// Tracker records cleanup outcomes.
type Tracker interface {
	PutCleanupOutcome(ctx context.Context, o tracking.CleanupOutcome) error
}

// Leaser serializes cleanups of one table across processes.
type Leaser interface {
	Acquire(ctx context.Context, key string, executionID int64) (lease.Lease, error)
	Release(ctx context.Context, key string) error
}

// FailureSink persists version deletion failures.
type FailureSink interface {
	Write(ctx context.Context, executionID int64, failures []report.Failure) (string, error)
}

// MetricsRecorder records cleaner activity.
type MetricsRecorder interface {
	RecordTable(outcome string, versionsDeleted, versionsFailed int)
	RecordDeleteBatch(durationSeconds float64, success bool)
	RecordInvocation(durationSeconds float64, success bool)
}

// Options configures a Cleaner. Tracker, Lease, Reports and Metrics are
// optional.
type Options struct {
	VersionsToRetain int
	Logger           *logging.Logger
	Tracker          Tracker
	Lease            Leaser
	Reports          FailureSink
	Metrics          MetricsRecorder

	// Now overrides the clock used for execution ids.
	Now func() time.Time
}

// Cleaner processes work items.
type Cleaner struct {
	catalog Catalog
	retain  int
	logger  *logging.Logger
	tracker Tracker
	lease   Leaser
	reports FailureSink
	metrics MetricsRecorder
	now     func() time.Time

	mu            sync.Mutex
	lastExecution int64
}

// New creates a Cleaner. It fails with ErrRetentionTooLow when
// opts.VersionsToRetain is below the minimum.
func New(cat Catalog, opts Options) (*Cleaner, error) {
	if err := checkRetention(opts.VersionsToRetain); err != nil {
		return nil, err
	}
	c := &Cleaner{
		catalog: cat,
		retain:  opts.VersionsToRetain,
		logger:  opts.Logger,
		tracker: opts.Tracker,
		lease:   opts.Lease,
		reports: opts.Reports,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if c.logger == nil {
		c.logger = logging.Global()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func checkRetention(n int) error {
	if n < retention.MinVersionsToRetain {
		return fmt.Errorf("%w: %d < %d", ErrRetentionTooLow, n, retention.MinVersionsToRetain)
	}
	return nil
}

// TableResult is the outcome for one work item.
type TableResult struct {
	ExecutionID  int64
	BatchID      int64
	DatabaseName string
	TableName    string
	Outcome      string

	VersionsBefore   int
	VersionsRetained int
	VersionsDeleted  int
	Failures         []catalog.VersionError
}

// Result summarizes one Process call.
type Result struct {
	Messages        int
	Cleaned         int
	BelowThreshold  int
	Skipped         int // malformed messages
	LeaseHeld       int
	VersionsDeleted int
	Tables          []TableResult
	Failures        []report.Failure
	ReportKey       string
}

// String renders the invocation result.
func (r Result) String() string {
	return fmt.Sprintf("Cleanup execution succeeded! messages=%d cleaned=%d belowThreshold=%d skipped=%d leaseHeld=%d versionsDeleted=%d failures=%d",
		r.Messages, r.Cleaned, r.BelowThreshold, r.Skipped, r.LeaseHeld, r.VersionsDeleted, len(r.Failures))
}

// nextExecutionID returns the current time in milliseconds, bumped past the
// previous id so ids never repeat within this Cleaner.
func (c *Cleaner) nextExecutionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.now().UnixMilli()
	if id <= c.lastExecution {
		id = c.lastExecution + 1
	}
	c.lastExecution = id
	return id
}

// Process handles msgs in order. Malformed messages are logged and counted
// as skipped. A listing or delete call error stops processing and is
// returned with the partial result; failures collected up to that point are
// still reported.
func (c *Cleaner) Process(ctx context.Context, msgs []queue.Message) (res Result, err error) {
	if err := checkRetention(c.retain); err != nil {
		return Result{}, err
	}

	start := time.Now()
	res.Messages = len(msgs)
	c.logger.Infof("processing work items", map[string]any{"count": len(msgs)})

	firstExecution := int64(0)
	defer func() {
		if len(res.Failures) > 0 {
			c.writeReport(ctx, firstExecution, &res)
		}
		if c.metrics != nil {
			c.metrics.RecordInvocation(time.Since(start).Seconds(), err == nil)
		}
	}()

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		item, batchID, derr := m.Decode()
		if derr != nil {
			c.logger.Warnf("skipping malformed work item", map[string]any{
				"messageId": m.ID,
				"error":     derr,
			})
			res.Skipped++
			c.recordTable(OutcomeMalformed, 0, 0)
			continue
		}

		executionID := c.nextExecutionID()
		if firstExecution == 0 {
			firstExecution = executionID
		}

		tr, terr := c.cleanTable(ctx, item, batchID, executionID)
		res.Tables = append(res.Tables, tr)
		switch tr.Outcome {
		case OutcomeCleaned:
			res.Cleaned++
			res.VersionsDeleted += tr.VersionsDeleted
		case OutcomeBelowThreshold:
			res.BelowThreshold++
		case OutcomeLeaseHeld:
			res.LeaseHeld++
		}
		for _, f := range tr.Failures {
			res.Failures = append(res.Failures, report.Failure{
				ExecutionID:  executionID,
				BatchID:      batchID,
				DatabaseName: item.DatabaseName,
				TableName:    item.TableName,
				VersionID:    f.VersionID,
				ErrorCode:    f.Code,
				ErrorMessage: f.Message,
				Deleted:      false,
				RecordedAt:   c.now().UnixMilli(),
			})
		}
		c.recordTable(tr.Outcome, tr.VersionsDeleted, len(tr.Failures))
		if terr != nil {
			return res, terr
		}
	}

	c.logger.Infof("work items processed", map[string]any{
		"cleaned":         res.Cleaned,
		"belowThreshold":  res.BelowThreshold,
		"skipped":         res.Skipped,
		"leaseHeld":       res.LeaseHeld,
		"versionsDeleted": res.VersionsDeleted,
		"failures":        len(res.Failures),
	})
	return res, nil
}

func (c *Cleaner) cleanTable(ctx context.Context, item queue.WorkItem, batchID, executionID int64) (TableResult, error) {
	tr := TableResult{
		ExecutionID:  executionID,
		BatchID:      batchID,
		DatabaseName: item.DatabaseName,
		TableName:    item.TableName,
	}
	logger := c.logger.WithCorrelationID(strconv.FormatInt(batchID, 10)).With(map[string]any{
		"database":    item.DatabaseName,
		"table":       item.TableName,
		"executionId": executionID,
	})

	if c.lease != nil {
		key := lease.Key(item.DatabaseName, item.TableName)
		holder, err := c.lease.Acquire(ctx, key, executionID)
		switch {
		case errors.Is(err, lease.ErrLeaseHeld):
			tr.Outcome = OutcomeLeaseHeld
			logger.Warnf("table lease held by another cleaner, skipping", map[string]any{"owner": holder.OwnerID})
			return tr, nil
		case err != nil:
			tr.Outcome = OutcomeFailed
			return tr, fmt.Errorf("acquire lease on %s: %w", key, err)
		}
		defer func() {
			if err := c.lease.Release(context.WithoutCancel(ctx), key); err != nil {
				logger.Warnf("failed to release table lease", map[string]any{"error": err})
			}
		}()
	}

	versions, err := c.catalog.ListVersions(ctx, item.DatabaseName, item.TableName)
	if err != nil {
		tr.Outcome = OutcomeFailed
		return tr, fmt.Errorf("list versions of %s.%s: %w", item.DatabaseName, item.TableName, err)
	}
	tr.VersionsBefore = len(versions)

	if !retention.NeedsCleanup(len(versions), c.retain) {
		tr.Outcome = OutcomeBelowThreshold
		logger.Infof("table does not exceed retention, skipping", map[string]any{
			"versions": len(versions),
			"retain":   c.retain,
		})
		return tr, nil
	}

	split, err := retention.Partition(versions, c.retain)
	if err != nil {
		tr.Outcome = OutcomeFailed
		return tr, fmt.Errorf("partition versions of %s.%s: %w", item.DatabaseName, item.TableName, err)
	}
	tr.VersionsRetained = len(split.Retain)
	logger.Infof("deleting table versions", map[string]any{
		"toDelete": len(split.Delete),
		"toRetain": len(split.Retain),
	})

	del, err := deleteVersions(ctx, c.catalog, item.DatabaseName, item.TableName, split.Delete, c.metrics)
	tr.VersionsDeleted = del.Deleted
	tr.Failures = del.Failures
	if err != nil {
		tr.Outcome = OutcomeFailed
		return tr, err
	}
	tr.Outcome = OutcomeCleaned

	if len(del.Failures) > 0 {
		logger.Warnf("some table versions were not deleted", map[string]any{"failed": len(del.Failures)})
	}

	if c.tracker != nil {
		err := c.tracker.PutCleanupOutcome(ctx, tracking.CleanupOutcome{
			ExecutionID:      executionID,
			BatchID:          batchID,
			DatabaseName:     item.DatabaseName,
			TableName:        item.TableName,
			VersionsBefore:   tr.VersionsBefore,
			VersionsRetained: tr.VersionsRetained,
			VersionsDeleted:  tr.VersionsDeleted,
		})
		if err != nil {
			logger.Errorf("failed to record cleanup outcome", map[string]any{"error": err})
		}
	}
	return tr, nil
}

func (c *Cleaner) writeReport(ctx context.Context, executionID int64, res *Result) {
	if c.reports == nil {
		return
	}
	key, err := c.reports.Write(context.WithoutCancel(ctx), executionID, res.Failures)
	if err != nil {
		c.logger.Errorf("failed to write failure report", map[string]any{
			"failures": len(res.Failures),
			"error":    err,
		})
		return
	}
	res.ReportKey = key
	c.logger.Infof("failure report written", map[string]any{"key": key, "failures": len(res.Failures)})
}

func (c *Cleaner) recordTable(outcome string, deleted, failed int) {
	if c.metrics != nil {
		c.metrics.RecordTable(outcome, deleted, failed)
	}
}
