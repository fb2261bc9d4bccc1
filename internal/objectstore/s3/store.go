// Package s3 implements the objectstore.Store interface on Amazon S3.
package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/versiongc/versiongc/internal/objectstore"
)

// Config configures an S3 store.
type Config struct {
	// Bucket is the name of the S3 bucket.
	Bucket string

	// UsePathStyle enables path-style addressing (required for MinIO and
	// LocalStack).
	UsePathStyle bool
}

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Store implements objectstore.Store using AWS S3.
type Store struct {
	client API
	bucket string
	closed bool
	mu     sync.RWMutex
}

// New creates a Store from a loaded AWS configuration.
func New(awsCfg aws.Config, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// S3 omits checksums on some responses; the warning is noise.
		o.DisableLogOutputChecksumValidationSkipped = true
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient creates a Store on an existing client.
func NewWithClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) checkClosed(op, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrClosed}
	}
	return nil
}

// PutWithOptions stores an object with additional options.
func (s *Store) PutWithOptions(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts objectstore.PutOptions) error {
	if err := s.checkClosed("Put", key); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if opts.IfNoneMatch == "*" {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return wrapError("Put", key, err)
	}
	return nil
}

// Get retrieves an entire object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.checkClosed("Get", key); err != nil {
		return nil, err
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError("Get", key, err)
	}
	return output.Body, nil
}

// List returns objects matching the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	if err := s.checkClosed("List", prefix); err != nil {
		return nil, err
	}

	var results []objectstore.ObjectMeta
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError("List", prefix, err)
		}
		for _, obj := range page.Contents {
			meta := objectstore.ObjectMeta{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: aws.ToString(obj.ETag),
			}
			if obj.LastModified != nil {
				meta.LastModified = obj.LastModified.UnixMilli()
			}
			results = append(results, meta)
		}
	}
	return results, nil
}

// Close marks the store closed. The underlying client holds no resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		case http.StatusPreconditionFailed:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrPreconditionFailed}
		}
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

var (
	_ objectstore.Store = (*Store)(nil)
	_ API               = (*s3.Client)(nil)
)
