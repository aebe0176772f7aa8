package transport

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OriginLimiter enforces a minimum interval between requests to the same origin.
// It is cooperative and only covers requests issued through one executor.
type OriginLimiter struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewOriginLimiter spaces requests per origin by 1s/threads.
func NewOriginLimiter(threads int) *OriginLimiter {
	if threads <= 0 {
		threads = 1
	}
	return &OriginLimiter{
		interval: time.Second / time.Duration(threads),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Interval is the minimum gap enforced between requests to one origin.
func (l *OriginLimiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until a request to origin may be issued.
func (l *OriginLimiter) Wait(ctx context.Context, origin string) error {
	return l.limiter(origin).Wait(ctx)
}

func (l *OriginLimiter) limiter(origin string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[origin] = lim
	}
	return lim
}
