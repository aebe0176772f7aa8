package transport

import (
	"context"
	"time"
)

// FirstOf returns a context derived from parent that is also cancelled as soon as any
// of others is done. The cause of the first context to fire is preserved and can be
// read with context.Cause.
func FirstOf(parent context.Context, others ...context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	stops := make([]func() bool, 0, len(others))
	for _, other := range others {
		if other == nil {
			continue
		}
		o := other
		stops = append(stops, context.AfterFunc(o, func() {
			cause := context.Cause(o)
			if cause == nil {
				cause = o.Err()
			}
			cancel(cause)
		}))
	}
	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel(context.Canceled)
	}
}

// WithTimeoutCause bounds ctx by d, leaving scan-wide cancellation distinguishable from
// the deadline through context.Cause.
func WithTimeoutCause(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	timer, cancelTimer := context.WithTimeout(context.Background(), d)
	merged, cancel := FirstOf(ctx, timer)
	return merged, func() {
		cancel()
		cancelTimer()
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
