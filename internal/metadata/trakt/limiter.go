package trakt

import (
	"context"
	"sync"
	"time"
)

// limiter is a fixed-window call counter. When the window's budget is
// spent, acquire blocks until the window rolls over.
type limiter struct {
	mu          sync.Mutex
	limit       int
	period      time.Duration
	count       int
	windowStart time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newLimiter(limit int, period time.Duration) *limiter {
	return &limiter{
		limit:  limit,
		period: period,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *limiter) acquire(ctx context.Context) error {
	l.mu.Lock()

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.period {
		l.windowStart = now
		l.count = 0
	}

	if l.count < l.limit {
		l.count++
		l.mu.Unlock()
		return nil
	}

	wait := l.period - now.Sub(l.windowStart)
	l.mu.Unlock()

	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	l.mu.Lock()
	l.windowStart = l.now()
	l.count = 1
	l.mu.Unlock()
	return nil
}
