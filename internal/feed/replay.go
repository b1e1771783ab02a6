package feed

import (
	"context"
	"sync"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
)

var _ domain.MarketDataSource = (*ReplaySource)(nil)

// ReplaySource serves a scripted sequence of market events, optionally paced
// by a fixed delay. It backs paper runs and the end-to-end tests; when the
// script runs out, Next returns ErrStreamClosed.
type ReplaySource struct {
	mu         sync.Mutex
	events     []domain.MarketEvent
	pos        int
	delay      time.Duration
	subscribed map[domain.Symbol]struct{}
	lastUpdate map[domain.Symbol]time.Time
	closed     bool
}

// NewReplaySource creates a source that replays events in order, sleeping
// delay between them (zero replays as fast as the consumer reads).
func NewReplaySource(events []domain.MarketEvent, delay time.Duration) *ReplaySource {
	return &ReplaySource{
		events:     events,
		delay:      delay,
		subscribed: make(map[domain.Symbol]struct{}),
		lastUpdate: make(map[domain.Symbol]time.Time),
	}
}

// Append schedules more events behind whatever is still unread.
func (r *ReplaySource) Append(events ...domain.MarketEvent) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

// Subscribe records interest; the replay serves only subscribed symbols and
// skips script entries for anything else.
func (r *ReplaySource) Subscribe(_ context.Context, symbols []domain.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range symbols {
		r.subscribed[sym] = struct{}{}
	}
	return nil
}

// Unsubscribe removes interest in the symbols.
func (r *ReplaySource) Unsubscribe(_ context.Context, symbols []domain.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sym := range symbols {
		delete(r.subscribed, sym)
	}
	return nil
}

// Next returns the next scripted event for a subscribed symbol.
func (r *ReplaySource) Next(ctx context.Context) (domain.MarketEvent, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.MarketEvent{}, domain.ErrStreamClosed
	}
	var ev *domain.MarketEvent
	for r.pos < len(r.events) {
		candidate := r.events[r.pos]
		r.pos++
		if _, ok := r.subscribed[candidate.Symbol]; ok {
			ev = &candidate
			break
		}
	}
	delay := r.delay
	if ev != nil {
		r.lastUpdate[ev.Symbol] = ev.Timestamp
	}
	r.mu.Unlock()

	if ev == nil {
		return domain.MarketEvent{}, domain.ErrStreamClosed
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.MarketEvent{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return *ev, nil
}

// IsConnected reports whether the script still has unread events.
func (r *ReplaySource) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.pos < len(r.events)
}

// LastUpdate returns the timestamp of the last served event for the symbol.
func (r *ReplaySource) LastUpdate(symbol domain.Symbol) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.lastUpdate[symbol]
	return ts, ok
}

// Close ends the replay; subsequent Next calls return ErrStreamClosed.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
