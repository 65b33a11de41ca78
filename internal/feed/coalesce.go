package feed

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent pulls for the same key into one upstream
// request. The shared request runs on a context detached from any single
// caller, bounded by timeout, so one caller giving up does not fail the
// others.
type Coalescer[T any] struct {
	g       singleflight.Group
	timeout time.Duration
}

// NewCoalescer returns a Coalescer whose shared requests are bounded by
// timeout. A non-positive timeout leaves them unbounded.
func NewCoalescer[T any](timeout time.Duration) *Coalescer[T] {
	return &Coalescer[T]{timeout: timeout}
}

// Do runs fn once per in-flight key. shared reports whether the result was
// delivered to more than one caller.
func (c *Coalescer[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (val T, shared bool, err error) {
	ch := c.g.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.timeout)
			defer cancel()
		}
		return fn(fctx)
	})

	select {
	case <-ctx.Done():
		return val, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return val, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}
