package main

import (
	"bytes"
	"context"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versiongc/versiongc/internal/catalog"
	"github.com/versiongc/versiongc/internal/cleaner"
	"github.com/versiongc/versiongc/internal/config"
	"github.com/versiongc/versiongc/internal/logging"
	"github.com/versiongc/versiongc/internal/planner"
	"github.com/versiongc/versiongc/internal/queue"
	"github.com/versiongc/versiongc/internal/report"
	"github.com/versiongc/versiongc/internal/server"
	"github.com/versiongc/versiongc/internal/tracking"
)

var runStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// fakeCatalog serves both the planner and the cleaner.
type fakeCatalog struct {
	tables   map[string][]string
	versions []string

	mu      sync.Mutex
	deleted []string
}

func (f *fakeCatalog) Databases(context.Context) iter.Seq2[catalog.Database, error] {
	return func(yield func(catalog.Database, error) bool) {
		for _, name := range slices.Sorted(maps.Keys(f.tables)) {
			if !yield(catalog.Database{Name: name}, nil) {
				return
			}
		}
	}
}

func (f *fakeCatalog) Database(_ context.Context, name string) (catalog.Database, error) {
	if _, ok := f.tables[name]; !ok {
		return catalog.Database{}, catalog.ErrNotFound
	}
	return catalog.Database{Name: name}, nil
}

func (f *fakeCatalog) Tables(_ context.Context, db string) iter.Seq2[catalog.Table, error] {
	return func(yield func(catalog.Table, error) bool) {
		for _, name := range f.tables[db] {
			if !yield(catalog.Table{DatabaseName: db, Name: name}, nil) {
				return
			}
		}
	}
}

func (f *fakeCatalog) ListVersions(context.Context, string, string) ([]string, error) {
	return f.versions, nil
}

func (f *fakeCatalog) DeleteVersions(_ context.Context, _, _ string, ids []string) ([]catalog.VersionError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil, nil
}

func versionIDs(n int) []string {
	ids := make([]string, n)
	for i := range n {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "versiongcd version dev")
}

func TestLambdaRejectsUnknownJob(t *testing.T) {
	_, err := execute(t, "lambda", "compactor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid argument "compactor"`)
}

func TestReportRequiresSelection(t *testing.T) {
	_, err := execute(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one of --batch-id or --failures-date is required")
}

func TestLoadConfigFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versiongc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  sqs:
    queueUrl: https://sqs.us-east-1.amazonaws.com/123456789012/glue-table-versions-cleanup
planner:
  databaseNames: sales$marketing
`), 0o600))

	configPath = path
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig(config.RolePlanner)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "marketing"}, cfg.Planner.DatabaseList())
	assert.Equal(t, "glue_table_version_cleanup_planner", cfg.Planner.Tracking.TableName)
}

func TestPlannerHandler(t *testing.T) {
	cat := &fakeCatalog{tables: map[string][]string{
		"marketing": {"campaigns"},
		"sales":     {"orders", "refunds"},
	}}
	q := queue.NewMemory(0)
	p := planner.New(cat, q, nil, planner.Options{
		Logger: logging.Nop(),
		Now:    func() time.Time { return runStart },
	})

	got, err := plannerHandler(p)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Planner execution succeeded! batchId=1714521600000 databases=2 tables=3 sent=3 sendFailures=0 recordFailures=0", got)

	pending, _ := q.Len()
	assert.Equal(t, 3, pending)
}

func TestCleanerHandler(t *testing.T) {
	cat := &fakeCatalog{versions: versionIDs(105)}
	c, err := cleaner.New(cat, cleaner.Options{
		VersionsToRetain: 100,
		Logger:           logging.Nop(),
		Now:              func() time.Time { return runStart },
	})
	require.NoError(t, err)

	batch := "1714521600000"
	ev := events.SQSEvent{Records: []events.SQSMessage{{
		MessageId:     "m-1",
		ReceiptHandle: "rh-1",
		Body:          `{"databaseName":"sales","tableName":"orders"}`,
		MessageAttributes: map[string]events.SQSMessageAttribute{
			queue.BatchIDAttribute: {StringValue: &batch, DataType: "Number"},
		},
	}}}

	got, err := cleanerHandler(c)(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "Cleanup execution succeeded! messages=1 cleaned=1 belowThreshold=0 skipped=0 leaseHeld=0 versionsDeleted=5 failures=0", got)
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, cat.deleted)
}

func TestSchedulePlanner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- schedulePlanner(ctx, 50*time.Millisecond, func(context.Context) { runs.Add(1) }, logging.Nop())
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeBatchReader struct {
	records  []tracking.PlannerRecord
	outcomes []tracking.CleanupOutcome
}

func (f *fakeBatchReader) PlannerRecords(context.Context, int64) ([]tracking.PlannerRecord, error) {
	return f.records, nil
}

func (f *fakeBatchReader) CleanupOutcomes(context.Context, int64) ([]tracking.CleanupOutcome, error) {
	return f.outcomes, nil
}

func TestPrintBatch(t *testing.T) {
	r := &fakeBatchReader{
		records: []tracking.PlannerRecord{
			{BatchID: 1714521600000, DatabaseName: "sales", TableName: "orders", MessageSentTime: "2024-05-01 00:00:00"},
			{BatchID: 1714521600000, DatabaseName: "sales", TableName: "refunds", MessageSentTime: "2024-05-01 00:00:01"},
		},
		outcomes: []tracking.CleanupOutcome{
			{ExecutionID: 1714521660000, BatchID: 1714521600000, DatabaseName: "sales", TableName: "orders",
				VersionsBefore: 105, VersionsRetained: 100, VersionsDeleted: 5},
		},
	}

	var out bytes.Buffer
	require.NoError(t, printBatch(context.Background(), &out, r, 1714521600000))

	s := out.String()
	assert.Contains(t, s, "Planner batch 1714521600000 (2024-05-01T00:00:00Z)")
	assert.Contains(t, s, "refunds")
	assert.Contains(t, s, "2024-05-01 00:00:01")
	assert.Contains(t, s, "1714521660000")
	assert.Contains(t, s, "105")
	assert.Equal(t, 2, strings.Count(s, "TOTAL"))
}

func TestRenderFailures(t *testing.T) {
	var out bytes.Buffer
	renderFailures(&out, []report.Failure{{
		ExecutionID:  1714521660000,
		BatchID:      1714521600000,
		DatabaseName: "sales",
		TableName:    "orders",
		VersionID:    "7",
		ErrorCode:    "EntityNotFoundException",
		ErrorMessage: "version not found",
	}})

	s := out.String()
	assert.Contains(t, s, "EntityNotFoundException")
	assert.Contains(t, s, "version not found")
	assert.Contains(t, s, "VERSION")
}

func TestCleanerStaleAfter(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 900*time.Second+time.Second, cleanerStaleAfter(cfg))

	cfg.Queue.SQS.VisibilityTimeoutSeconds = 0
	cfg.Cleaner.PollIntervalMs = 0
	assert.Equal(t, server.DefaultStaleAfter, cleanerStaleAfter(cfg))
}
