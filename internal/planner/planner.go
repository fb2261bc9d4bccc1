// Package planner enumerates catalog tables and queues one cleanup work item
// per table.
//
// A run is identified by its batch id, the run start in milliseconds since
// the epoch. Every work item carries the batch id, and every item that was
// sent is recorded in the planner tracking table under it.
package planner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/versiongc/versiongc/internal/catalog"
	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/queue"
	"github.com/versiongc/versiongc/internal/tracking"
)

// Catalog is the read side of the Glue catalog used by the planner.
type Catalog interface {
	Databases(ctx context.Context) iter.Seq2[catalog.Database, error]
	Database(ctx context.Context, name string) (catalog.Database, error)
	Tables(ctx context.Context, database string) iter.Seq2[catalog.Table, error]
}

// Recorder stores planner tracking rows.
type Recorder interface {
	PutPlannerRecord(ctx context.Context, r tracking.PlannerRecord) error
}

// MetricsRecorder records planner activity.
type MetricsRecorder interface {
	RecordDatabase(skipped bool)
	RecordMessage(sent bool)
	RecordRun(durationSeconds float64, success bool)
}

// Options configures a Planner.
type Options struct {
	// Databases restricts the run to these names. Empty means every
	// database in the catalog.
	Databases []string

	Logger  *logging.Logger
	Metrics MetricsRecorder
	Now     func() time.Time
}

// Planner sends work items for every table in scope.
type Planner struct {
	catalog   Catalog
	sender    queue.Sender
	recorder  Recorder
	databases []string
	logger    *logging.Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// New creates a Planner.
func New(cat Catalog, sender queue.Sender, recorder Recorder, opts Options) *Planner {
	p := &Planner{
		catalog:   cat,
		sender:    sender,
		recorder:  recorder,
		databases: opts.Databases,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if p.logger == nil {
		p.logger = logging.Global()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Summary describes one planner run.
type Summary struct {
	BatchID          int64
	Databases        int
	SkippedDatabases []string
	Tables           int
	Sent             int
	SendFailures     int
	RecordFailures   int
}

func (s Summary) String() string {
	return fmt.Sprintf("Planner execution succeeded! batchId=%d databases=%d tables=%d sent=%d sendFailures=%d recordFailures=%d",
		s.BatchID, s.Databases, s.Tables, s.Sent, s.SendFailures, s.RecordFailures)
}

// Run performs one planner pass. A listing error aborts the run and is
// returned with the partial summary. Send and record failures are logged and
// counted.
func (p *Planner) Run(ctx context.Context) (sum Summary, err error) {
	start := p.now()
	sum.BatchID = start.UnixMilli()
	logger := p.logger.WithCorrelationID(strconv.FormatInt(sum.BatchID, 10))
	logger.Infof("planner run started", map[string]any{"databases": p.databases})

	defer func() {
		if p.metrics != nil {
			p.metrics.RecordRun(p.now().Sub(start).Seconds(), err == nil)
		}
	}()

	for db, err := range p.scope(ctx, logger, &sum) {
		if err != nil {
			return sum, err
		}
		sum.Databases++
		if err := p.planDatabase(ctx, logger, db.Name, &sum); err != nil {
			return sum, err
		}
	}

	logger.Infof("planner run finished", map[string]any{
		"databases":      sum.Databases,
		"tables":         sum.Tables,
		"sent":           sum.Sent,
		"sendFailures":   sum.SendFailures,
		"recordFailures": sum.RecordFailures,
	})
	return sum, nil
}

// scope yields the databases to plan: the configured names that resolve to
// local databases, or every database when none are configured.
func (p *Planner) scope(ctx context.Context, logger *logging.Logger, sum *Summary) iter.Seq2[catalog.Database, error] {
	if len(p.databases) == 0 {
		return func(yield func(catalog.Database, error) bool) {
			for db, err := range p.catalog.Databases(ctx) {
				if err != nil {
					yield(catalog.Database{}, fmt.Errorf("list databases: %w", err))
					return
				}
				if p.metrics != nil {
					p.metrics.RecordDatabase(false)
				}
				if !yield(db, nil) {
					return
				}
			}
		}
	}

	return func(yield func(catalog.Database, error) bool) {
		for _, name := range p.databases {
			db, err := p.catalog.Database(ctx, name)
			switch {
			case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrLinked):
				logger.Warnf("skipping database", map[string]any{"database": name, "error": err})
				sum.SkippedDatabases = append(sum.SkippedDatabases, name)
				if p.metrics != nil {
					p.metrics.RecordDatabase(true)
				}
				continue
			case err != nil:
				yield(catalog.Database{}, fmt.Errorf("resolve database %s: %w", name, err))
				return
			}
			if p.metrics != nil {
				p.metrics.RecordDatabase(false)
			}
			if !yield(db, nil) {
				return
			}
		}
	}
}

func (p *Planner) planDatabase(ctx context.Context, logger *logging.Logger, database string, sum *Summary) error {
	logger = logger.With(map[string]any{"database": database})
	tables := 0
	for t, err := range p.catalog.Tables(ctx, database) {
		if err != nil {
			return fmt.Errorf("list tables of %s: %w", database, err)
		}
		tables++
		sum.Tables++
		p.planTable(ctx, logger, t, sum)
	}
	logger.Infof("database planned", map[string]any{"tables": tables})
	return nil
}

func (p *Planner) planTable(ctx context.Context, logger *logging.Logger, t catalog.Table, sum *Summary) {
	item := queue.WorkItem{DatabaseName: t.DatabaseName, TableName: t.Name}
	if err := p.sender.Send(ctx, item, sum.BatchID); err != nil {
		sum.SendFailures++
		p.recordMessage(false)
		logger.Errorf("failed to send work item", map[string]any{"table": t.Name, "error": err})
		return
	}
	sum.Sent++
	p.recordMessage(true)

	if p.recorder == nil {
		return
	}
	err := p.recorder.PutPlannerRecord(ctx, tracking.PlannerRecord{
		BatchID:         sum.BatchID,
		DatabaseName:    t.DatabaseName,
		TableName:       t.Name,
		MessageSentTime: tracking.FormatSentTime(p.now()),
	})
	if err != nil {
		sum.RecordFailures++
		logger.Errorf("failed to record planner item", map[string]any{"table": t.Name, "error": err})
	}
}

func (p *Planner) recordMessage(sent bool) {
	if p.metrics != nil {
		p.metrics.RecordMessage(sent)
	}
}
