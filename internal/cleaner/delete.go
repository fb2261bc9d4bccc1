package cleaner

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/versiongc/versiongc/internal/catalog"
)

// MaxVersionsPerBatch is the BatchDeleteTableVersion id limit.
const MaxVersionsPerBatch = 100

// Deleter issues one bulk delete call.
type Deleter interface {
	DeleteVersions(ctx context.Context, database, table string, ids []string) ([]catalog.VersionError, error)
}

// DeleteResult summarizes a chunked deletion.
type DeleteResult struct {
	Requested int
	Deleted   int
	Batches   int
	// Failures are the per-id errors in chunk order.
	Failures []catalog.VersionError
}

// DeleteVersions deletes ids in order, in chunks of at most
// MaxVersionsPerBatch. Deleted counts every id not named by a failure; an id
// reported twice counts once. An error from a delete call stops the run and
// is returned with the result accumulated so far.
func DeleteVersions(ctx context.Context, d Deleter, database, table string, ids []string) (DeleteResult, error) {
	return deleteVersions(ctx, d, database, table, ids, nil)
}

func deleteVersions(ctx context.Context, d Deleter, database, table string, ids []string, metrics MetricsRecorder) (DeleteResult, error) {
	res := DeleteResult{Requested: len(ids)}
	failed := make(map[string]struct{})

	for chunk := range slices.Chunk(ids, MaxVersionsPerBatch) {
		start := time.Now()
		errs, err := d.DeleteVersions(ctx, database, table, chunk)
		if metrics != nil {
			metrics.RecordDeleteBatch(time.Since(start).Seconds(), err == nil)
		}
		if err != nil {
			res.Deleted = res.Batches*MaxVersionsPerBatch - len(failed)
			return res, fmt.Errorf("delete versions of %s.%s (batch %d): %w", database, table, res.Batches+1, err)
		}
		res.Batches++
		for _, e := range errs {
			res.Failures = append(res.Failures, e)
			failed[e.VersionID] = struct{}{}
		}
	}

	res.Deleted = len(ids) - len(failed)
	return res, nil
}
