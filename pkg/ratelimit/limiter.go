// Package ratelimit spaces outbound requests so upstream endpoints never
// see bursts. The stats endpoint rejects callers above roughly five
// requests per second, so the default interval is 200ms.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between requests.
const DefaultInterval = 200 * time.Millisecond

// Limiter controls the rate of operations.
type Limiter interface {
	// Allow reports whether an operation may proceed right now.
	Allow() bool
	// Wait blocks until an operation may proceed or the context is done.
	Wait(ctx context.Context) error
	// Reset clears the limiter state.
	Reset()
}

// IntervalLimiter enforces a minimum gap between consecutive operations.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewInterval creates a limiter with the given minimum spacing.
// A non-positive interval falls back to DefaultInterval.
func NewInterval(interval time.Duration) *IntervalLimiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IntervalLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
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

// Allow reports whether enough time has passed since the last operation.
// When it returns true the slot is consumed.
func (l *IntervalLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		return false
	}
	l.last = now
	return true
}

// Wait blocks until the spacing requirement is satisfied, then consumes
// the slot. It returns early if the context is cancelled.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	var wait time.Duration
	if !l.last.IsZero() {
		if elapsed := now.Sub(l.last); elapsed < l.interval {
			wait = l.interval - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind each other instead of all waking at once.
	l.last = now.Add(wait)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}

// Reset clears the last-operation timestamp.
func (l *IntervalLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = time.Time{}
}
