package research

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// outcome is one slot of a fan-out batch: either a value or the failure
// captured for that branch.
type outcome[R any] struct {
	Value R
	Err   error
}

// fanOut runs fn for every item concurrently and waits for all of them.
// A failing or panicking branch only fills its own slot; siblings keep
// running. limit <= 0 means unbounded.
func fanOut[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []outcome[R] {
	results := make([]outcome[R], len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			v, err := capture(func() (R, error) { return fn(ctx, item) })
			results[i] = outcome[R]{Value: v, Err: err}
			return nil
		})
	}

	// branches never return errors, so Wait is only a join point
	_ = g.Wait()
	return results
}

// capture calls fn and converts a panic into an error.
func capture[R any](fn func() (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			v, err = zero, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
