// Package report persists table versions the cleaner failed to delete.
//
// Each cleaner invocation with at least one failure writes one object:
//
//	<prefix>/dt=YYYY-MM-DD/<execution-id>-<uuid>.parquet
//	<prefix>/dt=YYYY-MM-DD/<execution-id>-<uuid>.json.gz
//
// Parquet is the default. The gzip JSON lines format suits ad-hoc inspection.
package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/versiongc/versiongc/internal/objectstore"
)

// Formats.
const (
	FormatParquet = "parquet"
	FormatJSON    = "json"
)

const (
	parquetExt = ".parquet"
	jsonExt    = ".json.gz"
)

// ErrUnknownFormat is returned for a format other than parquet or json.
var ErrUnknownFormat = errors.New("report: unknown format")

// Failure is one version id that BatchDeleteTableVersion did not delete.
type Failure struct {
	ExecutionID  int64  `parquet:"execution_id" json:"executionId"`
	BatchID      int64  `parquet:"execution_batch_id" json:"executionBatchId"`
	DatabaseName string `parquet:"database_name" json:"databaseName"`
	TableName    string `parquet:"table_name" json:"tableName"`
	VersionID    string `parquet:"version_id" json:"versionId"`
	ErrorCode    string `parquet:"error_code,optional" json:"errorCode,omitempty"`
	ErrorMessage string `parquet:"error_message,optional" json:"errorMessage,omitempty"`
	Deleted      bool   `parquet:"deleted" json:"deleted"`
	RecordedAt   int64  `parquet:"recorded_at,timestamp(millisecond)" json:"recordedAt"`
}

// Options configures a Writer.
type Options struct {
	Prefix string
	Format string

	// Now and NewID override the clock and object id in tests.
	Now   func() time.Time
	NewID func() string
}

// Writer writes failure reports to an object store.
type Writer struct {
	store  objectstore.Store
	prefix string
	format string
	now    func() time.Time
	newID  func() string
}

// NewWriter creates a Writer. An empty format selects Parquet.
func NewWriter(store objectstore.Store, opts Options) (*Writer, error) {
	w := &Writer{
		store:  store,
		prefix: strings.Trim(opts.Prefix, "/"),
		format: opts.Format,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if w.format == "" {
		w.format = FormatParquet
	}
	if w.format != FormatParquet && w.format != FormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.newID == nil {
		w.newID = uuid.NewString
	}
	return w, nil
}

// Key returns the object key for a report written at t.
func (w *Writer) Key(t time.Time, executionID int64, id string) string {
	ext := parquetExt
	if w.format == FormatJSON {
		ext = jsonExt
	}
	return path.Join(w.prefix, DayPrefix(t), fmt.Sprintf("%d-%s%s", executionID, id, ext))
}

// DayPrefix returns the "dt=YYYY-MM-DD" partition for t in UTC.
func DayPrefix(t time.Time) string {
	return "dt=" + t.UTC().Format(time.DateOnly)
}

// Write stores failures as one object and returns its key. No object is
// written for an empty slice.
func (w *Writer) Write(ctx context.Context, executionID int64, failures []Failure) (string, error) {
	if len(failures) == 0 {
		return "", nil
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	switch w.format {
	case FormatJSON:
		data, err = EncodeJSON(failures)
		contentType = "application/gzip"
	default:
		data, err = EncodeParquet(failures)
		contentType = "application/vnd.apache.parquet"
	}
	if err != nil {
		return "", err
	}

	key := w.Key(w.now(), executionID, w.newID())
	err = w.store.PutWithOptions(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, objectstore.PutOptions{
		Metadata:    map[string]string{"execution-id": fmt.Sprint(executionID), "failures": fmt.Sprint(len(failures))},
		IfNoneMatch: "*",
	})
	if err != nil {
		return "", fmt.Errorf("report: write %s: %w", key, err)
	}
	return key, nil
}

// ReadDay returns every failure reported on day t, in key order.
func (w *Writer) ReadDay(ctx context.Context, t time.Time) ([]Failure, error) {
	prefix := path.Join(w.prefix, DayPrefix(t)) + "/"
	objects, err := w.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("report: list %s: %w", prefix, err)
	}

	var out []Failure
	for _, obj := range objects {
		failures, err := w.Read(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, failures...)
	}
	return out, nil
}

// Read decodes one report object, choosing the codec by extension.
func (w *Writer) Read(ctx context.Context, key string) ([]Failure, error) {
	rc, err := w.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", key, err)
	}

	switch {
	case strings.HasSuffix(key, parquetExt):
		return DecodeParquet(data)
	case strings.HasSuffix(key, jsonExt):
		return DecodeJSON(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, key)
	}
}

// EncodeParquet writes failures as a zstd-compressed Parquet file.
func EncodeParquet(failures []Failure) ([]byte, error) {
	var buf bytes.Buffer
	pw := parquet.NewGenericWriter[Failure](&buf, parquet.Compression(&parquet.Zstd))
	n, err := pw.Write(failures)
	if err != nil {
		return nil, fmt.Errorf("report: parquet write: %w", err)
	}
	if n != len(failures) {
		return nil, fmt.Errorf("report: parquet wrote %d of %d rows", n, len(failures))
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("report: parquet close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a file written by EncodeParquet.
func DecodeParquet(data []byte) ([]Failure, error) {
	rows, err := parquet.Read[Failure](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("report: parquet read: %w", err)
	}
	return rows, nil
}

// EncodeJSON writes failures as gzip-compressed JSON lines.
func EncodeJSON(failures []Failure) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, f := range failures {
		if err := enc.Encode(f); err != nil {
			return nil, fmt.Errorf("report: json encode: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("report: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJSON reads a file written by EncodeJSON.
func DecodeJSON(data []byte) ([]Failure, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("report: gzip open: %w", err)
	}
	defer zr.Close()

	var out []Failure
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var f Failure
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("report: json decode: %w", err)
		}
		out = append(out, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("report: json scan: %w", err)
	}
	return out, nil
}
