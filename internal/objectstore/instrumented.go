package objectstore

import (
	"context"
	"io"
	"time"
)

// MetricsRecorder records object store operation metrics. It keeps the
// objectstore package decoupled from the metrics package.
type MetricsRecorder interface {
	RecordPut(durationSeconds float64, success bool, bytes int64)
	RecordGet(durationSeconds float64, success bool, bytes int64)
	RecordList(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *InstrumentedStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	start := time.Now()
	err := s.store.PutWithOptions(ctx, key, reader, size, contentType, opts)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), err == nil, size)
	}
	return err
}

// Get records the call when the returned reader is closed, with the number
// of bytes actually read.
func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	if s.metrics == nil {
		return rc, err
	}
	if err != nil {
		s.metrics.RecordGet(time.Since(start).Seconds(), false, 0)
		return nil, err
	}
	return &instrumentedReadCloser{
		ReadCloser: rc,
		start:      start,
		metrics:    s.metrics,
	}, nil
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	if s.metrics != nil {
		s.metrics.RecordList(time.Since(start).Seconds(), err == nil)
	}
	return result, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type instrumentedReadCloser struct {
	io.ReadCloser
	start     time.Time
	metrics   MetricsRecorder
	bytesRead int64
	readErr   bool
	closed    bool
}

func (r *instrumentedReadCloser) Read(p []byte) (n int, err error) {
	n, err = r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.readErr = true
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ReadCloser.Close()
	r.metrics.RecordGet(time.Since(r.start).Seconds(), err == nil && !r.readErr, r.bytesRead)
	return err
}

var _ Store = (*InstrumentedStore)(nil)
