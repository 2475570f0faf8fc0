// Package parallel runs a function over a sequence with bounded concurrency.
package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map calls mapFunc for every element of seq, at most limit calls at a time
// (limit < 1 means no limit), and yields the results in completion order.
// Breaking out of the loop or cancelling ctx cancels the context passed to
// mapFunc; the iterator returns once all started calls have returned.
//
//	for d, err := range parallel.Map(ctx, 4, seq, f) {}
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq[E], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		if limit < 1 {
			limit = -1
		}
		g.SetLimit(limit)

		mapped := make(chan result[D])
		done := make(chan struct{})
		go func() {
			for e := range seq {
				if gctx.Err() != nil {
					break
				}
				g.Go(func() error {
					if gctx.Err() != nil {
						return nil
					}
					d, err := mapFunc(gctx, e)
					select {
					case mapped <- result[D]{d: d, e: err}:
					case <-done:
					}
					return nil
				})
			}
			_ = g.Wait() // workers do not return an error
			close(mapped)
		}()

		for r := range mapped {
			if !yield(r.d, r.e) {
				close(done)
				cancel()
				for range mapped {
				}
				return
			}
		}
	}
}
