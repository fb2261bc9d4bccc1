package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of the Store interface for testing.
type MockStore struct {
	mu      sync.RWMutex
	objects map[string]mockObject
	closed  bool
}

type mockObject struct {
	data []byte
	meta ObjectMeta
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[string]mockObject),
	}
}

func (s *MockStore) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ObjectError{Op: "Put", Key: key, Err: ErrClosed}
	}
	if opts.IfNoneMatch == "*" {
		if _, exists := s.objects[key]; exists {
			return &ObjectError{Op: "Put", Key: key, Err: ErrPreconditionFailed}
		}
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}

	s.objects[key] = mockObject{
		data: data,
		meta: ObjectMeta{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  contentType,
			ETag:         "mock-etag",
			LastModified: time.Now().UnixMilli(),
			Metadata:     opts.Metadata,
		},
	}
	return nil
}

func (s *MockStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, &ObjectError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ObjectMeta
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			result = append(result, obj.meta)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
