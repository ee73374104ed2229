package pv

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut calls fn for every backend concurrently and concatenates the results
// in backend order. The first error cancels the remaining calls.
func fanOut[B any, T any](ctx context.Context, backends []B, fn func(context.Context, B) ([]T, error)) ([]T, error) {
	results := make([][]T, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(backends), 1))
	for i, b := range backends {
		g.Go(func() error {
			r, err := fn(gctx, b)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []T
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// fanOutEach is fanOut for calls that yield one value per backend.
func fanOutEach[B any, T any](ctx context.Context, backends []B, fn func(context.Context, B) (T, error)) ([]T, error) {
	return fanOut(ctx, backends, func(ctx context.Context, b B) ([]T, error) {
		v, err := fn(ctx, b)
		if err != nil {
			return nil, err
		}
		return []T{v}, nil
	})
}
