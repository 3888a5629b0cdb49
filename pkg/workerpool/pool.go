// Package workerpool runs independent tasks on a bounded number of goroutines
// and joins on all of them before returning.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Result pairs a task's output with its error. Index is the position of the
// input item, so results can be matched back regardless of completion order.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map applies fn to every item with at most limit concurrent calls. A failing
// item does not cancel its siblings; every error is reported in its Result.
// Results are returned in input order once all tasks have finished.
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	results := make([]Result[R], len(items))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result[R]{Index: i, Err: err}
				return nil
			}
			v, err := fn(ctx, item)
			results[i] = Result[R]{Index: i, Value: v, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results
}
