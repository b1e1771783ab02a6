package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	growthFactor  = 2.0
	decayFactor   = 0.5
	defaultMaxexp = 8.0
)

// Adaptive is a sliding-window limiter that widens its window when the venue
// itself reports throttling. Each OnThrottled call doubles the backoff factor
// up to a cap; after a quiet cooldown period the factor decays geometrically
// back toward 1, one halving per elapsed cooldown.
type Adaptive struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	stamps    []time.Time
	factor    float64
	maxFactor float64
	cooldown  time.Duration
	lastEvent time.Time // last throttle or decay step
	now       func() time.Time
}

// NewAdaptive creates an adaptive limiter with the given base rate. The
// cooldown is the quiet period required before the backoff starts decaying.
func NewAdaptive(limit int, window, cooldown time.Duration) *Adaptive {
	return &Adaptive{
		limit:     limit,
		window:    window,
		factor:    1,
		maxFactor: defaultMaxexp,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnThrottled reacts to a venue rate-limit rejection by doubling the
// effective window, capped at maxFactor times the base.
func (l *Adaptive) OnThrottled() {
	l.mu.Lock()
	l.factor = math.Min(l.factor*growthFactor, l.maxFactor)
	l.lastEvent = l.now()
	l.mu.Unlock()
}

// Factor returns the current backoff multiplier (>= 1).
func (l *Adaptive) Factor() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decayLocked()
	return l.factor
}

// Allow reports whether a call is admitted under the current effective
// window and records it if so.
func (l *Adaptive) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tryAcquire()
	return ok
}

// Wait blocks until a slot opens under the current effective window or the
// context is cancelled.
func (l *Adaptive) Wait(ctx context.Context) error {
	return waitLoop(ctx, func() (time.Time, bool) {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.tryAcquire()
	})
}

func (l *Adaptive) tryAcquire() (time.Time, bool) {
	l.decayLocked()
	window := l.effectiveWindowLocked()

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

func (l *Adaptive) effectiveWindowLocked() time.Duration {
	return time.Duration(float64(l.window) * l.factor)
}

// decayLocked halves the factor once per full cooldown elapsed since the last
// throttle or decay step, never dropping below 1.
func (l *Adaptive) decayLocked() {
	if l.factor <= 1 || l.cooldown <= 0 {
		return
	}
	elapsed := l.now().Sub(l.lastEvent)
	for elapsed >= l.cooldown && l.factor > 1 {
		l.factor = math.Max(1, l.factor*decayFactor)
		l.lastEvent = l.lastEvent.Add(l.cooldown)
		elapsed -= l.cooldown
	}
}
