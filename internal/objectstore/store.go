// Package objectstore defines the Store interface for S3-compatible storage.
//
// Failure reports written by the cleaner go through this interface so the
// report writer can be exercised against [MockStore] in tests and against
// Amazon S3 in production.
//
//	store, err := s3.New(awsCfg, s3.Config{Bucket: "gc-reports"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.PutWithOptions(ctx, "failures/dt=2024-05-01/1714521600000-ab12.parquet", r, size,
//	    "application/vnd.apache.parquet", objectstore.PutOptions{IfNoneMatch: "*"})
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPreconditionFailed is returned when a conditional write fails.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store is closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Put", "Get", "List")
	Key string // Object key
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string

	// LastModified is the Unix timestamp in milliseconds.
	LastModified int64

	Metadata map[string]string
}

// PutOptions configures a PutWithOptions call.
type PutOptions struct {
	// Metadata is optional user-defined key-value pairs stored with the object.
	Metadata map[string]string

	// IfNoneMatch when set to "*" causes the Put to fail with ErrPreconditionFailed
	// if an object already exists at the key.
	IfNoneMatch string
}

// Store is the interface for object storage operations.
//
// Implementations return errors wrapped in [ObjectError] and must be safe
// for concurrent use.
type Store interface {
	// PutWithOptions stores an object with metadata or a create-only
	// condition. size must match the number of bytes reader produces.
	PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get retrieves an entire object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	Close() error
}
