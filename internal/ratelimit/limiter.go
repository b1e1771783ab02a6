// Package ratelimit provides in-process sliding-window rate limiting for
// venue API calls. The redis-backed limiter in internal/cache/redis covers
// the multi-instance case; this package is the single-process fast path.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow admits at most limit calls per rolling window. Allow is a
// non-blocking check; Wait parks the caller on a timer until the oldest
// in-window call expires, so waiting never spins.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time // in-window call times, oldest first
	now    func() time.Time
}

// NewSlidingWindow creates a limiter admitting limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether a call is admitted right now and, if so, records it.
func (l *SlidingWindow) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tryAcquire(l.window)
	return ok
}

// Wait blocks until a slot is available or the context is cancelled. Each
// iteration sleeps until the oldest in-window call ages out; under
// contention another waiter may take the freed slot first, in which case the
// loop re-arms for the next expiry.
func (l *SlidingWindow) Wait(ctx context.Context) error {
	return waitLoop(ctx, func() (time.Time, bool) {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.tryAcquire(l.window)
	})
}

// tryAcquire prunes expired stamps and either records a call or returns the
// time the oldest stamp expires. Callers hold the lock.
func (l *SlidingWindow) tryAcquire(window time.Duration) (time.Time, bool) {
	now := l.now()
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	l.stamps = l.stamps[i:]

	if len(l.stamps) < l.limit {
		l.stamps = append(l.stamps, now)
		return time.Time{}, true
	}
	return l.stamps[0].Add(window), false
}

// waitLoop runs acquire until it succeeds, sleeping until the returned expiry
// between attempts.
func waitLoop(ctx context.Context, acquire func() (time.Time, bool)) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		expiry, ok := acquire()
		if ok {
			return nil
		}
		sleep := time.Until(expiry)
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
