package ratelimit

import "time"

// SetNow replaces the limiter clock for deterministic tests.
func (l *SlidingWindow) SetNow(fn func() time.Time) { l.now = fn }

// SetNow replaces the limiter clock for deterministic tests.
func (l *Adaptive) SetNow(fn func() time.Time) { l.now = fn }
