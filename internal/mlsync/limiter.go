package mlsync

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEach runs fn for every item with at most limit calls in flight. fn
// reports its own failures, so one item never cancels the others.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, index int, item T)) {
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()
}
