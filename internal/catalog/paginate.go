package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrPaginationLoop is returned when a page hands back the token it was
// fetched with, which would otherwise loop forever.
var ErrPaginationLoop = errors.New("catalog: continuation token did not advance")

// PageFunc fetches one page. token is nil for the first page. A nil or empty
// next token marks the last page.
type PageFunc[T any] func(ctx context.Context, token *string) (items []T, next *string, err error)

// Paginate returns a lazy sequence over every item of every page.
//
// Pages are fetched on demand as the caller ranges over the sequence. The
// first failed fetch is yielded once, unmodified, and ends the sequence;
// items already yielded from earlier pages stay yielded. The sequence is
// single-use: ranging over it a second time yields nothing.
func Paginate[T any](ctx context.Context, fetch PageFunc[T]) iter.Seq2[T, error] {
	used := false
	return func(yield func(T, error) bool) {
		if used {
			return
		}
		used = true

		var token *string
		for {
			items, next, err := fetch(ctx, token)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == nil || *next == "" {
				return
			}
			if token != nil && *token == *next {
				var zero T
				yield(zero, fmt.Errorf("%w: %q", ErrPaginationLoop, *next))
				return
			}
			token = next
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
