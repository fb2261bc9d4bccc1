// Package catalog reads and prunes table versions in the AWS Glue Data Catalog.
//
// Listing operations are exposed as lazy sequences built on [Paginate]; the
// List* helpers materialize them. Databases and tables that are resource
// links to another account are filtered out of every listing.
//
//	cat := catalog.New(glue.NewFromConfig(awsCfg), catalog.Options{CatalogID: id})
//	for db, err := range cat.Databases(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/versiongc/versiongc/internal/logging"
)

// Common errors, matched with errors.Is through *Error.
var (
	// ErrNotFound is returned when a database or table does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAccessDenied is returned when the caller lacks Glue permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrLinked is returned by Database for a resource link.
	ErrLinked = errors.New("resource link")
)

// Error wraps a failed catalog call with the operation and resource name.
type Error struct {
	Op       string // Glue operation, e.g. "GetTables"
	Resource string // database or database.table
	Kind     error  // ErrNotFound, ErrAccessDenied, ErrLinked or nil
	Err      error  // error returned by the SDK
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: %s %q: %v", e.Op, e.Resource, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Kind != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Err}
}

// Database is a Glue database.
type Database struct {
	Name string
	// Linked is set for resource links; TargetCatalogID names the owner.
	Linked          bool
	TargetCatalogID string
}

// Table is a Glue table reference.
type Table struct {
	DatabaseName    string
	Name            string
	Linked          bool
	TargetCatalogID string
}

// VersionError is a version id BatchDeleteTableVersion could not delete.
type VersionError struct {
	VersionID string
	Code      string
	Message   string
}

// API is the subset of the Glue client used by Catalog.
type API interface {
	GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, optFns ...func(*glue.Options)) (*glue.GetDatabasesOutput, error)
	GetDatabase(ctx context.Context, params *glue.GetDatabaseInput, optFns ...func(*glue.Options)) (*glue.GetDatabaseOutput, error)
	GetTables(ctx context.Context, params *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
	GetTableVersions(ctx context.Context, params *glue.GetTableVersionsInput, optFns ...func(*glue.Options)) (*glue.GetTableVersionsOutput, error)
	BatchDeleteTableVersion(ctx context.Context, params *glue.BatchDeleteTableVersionInput, optFns ...func(*glue.Options)) (*glue.BatchDeleteTableVersionOutput, error)
}

// MetricsRecorder records the latency and outcome of Glue calls.
type MetricsRecorder interface {
	RecordCatalogCall(op string, durationSeconds float64, success bool)
}

// Options configures a Catalog.
type Options struct {
	// CatalogID scopes every call. Empty means the caller's account.
	CatalogID string
	Logger    *logging.Logger
	Metrics   MetricsRecorder
}

// Catalog reads databases, tables and table versions from Glue.
type Catalog struct {
	api       API
	catalogID *string
	logger    *logging.Logger
	metrics   MetricsRecorder
}

// New creates a Catalog backed by api.
func New(api API, opts Options) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	c := &Catalog{
		api:     api,
		logger:  logger,
		metrics: opts.Metrics,
	}
	if opts.CatalogID != "" {
		c.catalogID = aws.String(opts.CatalogID)
	}
	return c
}

// CatalogID returns the catalog id calls are scoped to, or "".
func (c *Catalog) CatalogID() string {
	return aws.ToString(c.catalogID)
}

// Databases yields every database in the catalog except resource links.
func (c *Catalog) Databases(ctx context.Context) iter.Seq2[Database, error] {
	pages := Paginate(ctx, func(ctx context.Context, token *string) ([]types.Database, *string, error) {
		var out *glue.GetDatabasesOutput
		err := c.call("GetDatabases", "*", func() (err error) {
			out, err = c.api.GetDatabases(ctx, &glue.GetDatabasesInput{
				CatalogId: c.catalogID,
				NextToken: token,
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return out.DatabaseList, out.NextToken, nil
	})

	return func(yield func(Database, error) bool) {
		for raw, err := range pages {
			if err != nil {
				yield(Database{}, err)
				return
			}
			db := toDatabase(raw)
			if db.Linked {
				c.logger.Infof("skipping resource-linked database", map[string]any{
					"database":        db.Name,
					"targetCatalogId": db.TargetCatalogID,
				})
				continue
			}
			if !yield(db, nil) {
				return
			}
		}
	}
}

// Database fetches a single database by name. A missing database yields an
// error matching ErrNotFound. A resource link is returned together with an
// error matching ErrLinked.
func (c *Catalog) Database(ctx context.Context, name string) (Database, error) {
	var out *glue.GetDatabaseOutput
	err := c.call("GetDatabase", name, func() (err error) {
		out, err = c.api.GetDatabase(ctx, &glue.GetDatabaseInput{
			CatalogId: c.catalogID,
			Name:      aws.String(name),
		})
		return err
	})
	if err != nil {
		return Database{}, err
	}
	if out.Database == nil {
		return Database{}, &Error{Op: "GetDatabase", Resource: name, Kind: ErrNotFound, Err: errors.New("empty response")}
	}
	d := toDatabase(*out.Database)
	if d.Linked {
		return d, &Error{Op: "GetDatabase", Resource: name, Kind: ErrLinked, Err: fmt.Errorf("links to catalog %s", d.TargetCatalogID)}
	}
	return d, nil
}

// Tables yields the tables of a database except resource links.
func (c *Catalog) Tables(ctx context.Context, database string) iter.Seq2[Table, error] {
	pages := Paginate(ctx, func(ctx context.Context, token *string) ([]types.Table, *string, error) {
		var out *glue.GetTablesOutput
		err := c.call("GetTables", database, func() (err error) {
			out, err = c.api.GetTables(ctx, &glue.GetTablesInput{
				CatalogId:    c.catalogID,
				DatabaseName: aws.String(database),
				NextToken:    token,
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return out.TableList, out.NextToken, nil
	})

	return func(yield func(Table, error) bool) {
		for raw, err := range pages {
			if err != nil {
				yield(Table{}, err)
				return
			}
			t := toTable(database, raw)
			if t.Linked {
				c.logger.Infof("skipping resource-linked table", map[string]any{
					"database":        t.DatabaseName,
					"table":           t.Name,
					"targetCatalogId": t.TargetCatalogID,
				})
				continue
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// Versions yields the version ids of a table in the order Glue returns them.
func (c *Catalog) Versions(ctx context.Context, database, table string) iter.Seq2[string, error] {
	resource := database + "." + table
	pages := Paginate(ctx, func(ctx context.Context, token *string) ([]types.TableVersion, *string, error) {
		var out *glue.GetTableVersionsOutput
		err := c.call("GetTableVersions", resource, func() (err error) {
			out, err = c.api.GetTableVersions(ctx, &glue.GetTableVersionsInput{
				CatalogId:    c.catalogID,
				DatabaseName: aws.String(database),
				TableName:    aws.String(table),
				NextToken:    token,
			})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return out.TableVersions, out.NextToken, nil
	})

	return func(yield func(string, error) bool) {
		for v, err := range pages {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(aws.ToString(v.VersionId), nil) {
				return
			}
		}
	}
}

// ListVersions collects Versions.
func (c *Catalog) ListVersions(ctx context.Context, database, table string) ([]string, error) {
	return Collect(c.Versions(ctx, database, table))
}

// DeleteVersions issues one BatchDeleteTableVersion call. Ids absent from the
// returned errors were deleted. Callers keep len(ids) within the service
// limit of 100.
func (c *Catalog) DeleteVersions(ctx context.Context, database, table string, ids []string) ([]VersionError, error) {
	var out *glue.BatchDeleteTableVersionOutput
	err := c.call("BatchDeleteTableVersion", database+"."+table, func() (err error) {
		out, err = c.api.BatchDeleteTableVersion(ctx, &glue.BatchDeleteTableVersionInput{
			CatalogId:    c.catalogID,
			DatabaseName: aws.String(database),
			TableName:    aws.String(table),
			VersionIds:   ids,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(out.Errors) == 0 {
		return nil, nil
	}
	failed := make([]VersionError, 0, len(out.Errors))
	for _, e := range out.Errors {
		ve := VersionError{VersionID: aws.ToString(e.VersionId)}
		if e.ErrorDetail != nil {
			ve.Code = aws.ToString(e.ErrorDetail.ErrorCode)
			ve.Message = aws.ToString(e.ErrorDetail.ErrorMessage)
		}
		failed = append(failed, ve)
	}
	return failed, nil
}

func (c *Catalog) call(op, resource string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c.metrics != nil {
		c.metrics.RecordCatalogCall(op, time.Since(start).Seconds(), err == nil)
	}
	return wrapError(op, resource, err)
}

func wrapError(op, resource string, err error) error {
	if err == nil {
		return nil
	}

	var notFound *types.EntityNotFoundException
	if errors.As(err, &notFound) {
		return &Error{Op: op, Resource: resource, Kind: ErrNotFound, Err: err}
	}

	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return &Error{Op: op, Resource: resource, Kind: ErrAccessDenied, Err: err}
	}

	return &Error{Op: op, Resource: resource, Err: err}
}

func toDatabase(d types.Database) Database {
	db := Database{Name: aws.ToString(d.Name)}
	if d.TargetDatabase != nil {
		db.Linked = true
		db.TargetCatalogID = aws.ToString(d.TargetDatabase.CatalogId)
	}
	return db
}

func toTable(database string, t types.Table) Table {
	out := Table{
		DatabaseName: aws.ToString(t.DatabaseName),
		Name:         aws.ToString(t.Name),
	}
	if out.DatabaseName == "" {
		out.DatabaseName = database
	}
	if t.TargetTable != nil {
		out.Linked = true
		out.TargetCatalogID = aws.ToString(t.TargetTable.CatalogId)
	}
	return out
}

var _ API = (*glue.Client)(nil)
