package mlsync

import (
	"context"
	"log/slog"
)

// Enrichment is the result of an optional lookup. Callers merge Value only
// when Err is nil; a failed enrichment never fails the surrounding operation.
type Enrichment[T any] struct {
	Value T
	Err   error
}

// OK reports whether the lookup succeeded.
func (e Enrichment[T]) OK() bool {
	return e.Err == nil
}

// enrich runs fn and logs a failure at warn level.
func enrich[T any](ctx context.Context, logger *slog.Logger, what string, fn func(context.Context) (T, error)) Enrichment[T] {
	value, err := fn(ctx)
	if err != nil {
		logger.WarnContext(ctx, "optional enrichment failed",
			slog.String("enrichment", what),
			slog.Any("error", err))
		return Enrichment[T]{Err: err}
	}
	return Enrichment[T]{Value: value}
}
