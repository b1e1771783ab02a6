package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrStreamClosed = errors.New("market data stream closed")
	ErrStopped      = errors.New("engine stopped")
	// ErrVenueRateLimited marks a venue-signaled rate-limit rejection; the
	// adaptive rate limiter tightens its window when an error wraps this.
	ErrVenueRateLimited = errors.New("venue rate limited")
	// ErrLockHeld is returned when a distributed lock is already held by
	// another engine instance.
	ErrLockHeld = errors.New("lock already held")
)
