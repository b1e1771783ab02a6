// Package orderbook maintains per-symbol price-ordered bid/ask levels built
// from venue snapshots and incremental deltas.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/dkoval/gotrader/internal/domain"
)

// BookSide selects one side of the book.
type BookSide int

const (
	SideBids BookSide = iota
	SideAsks
)

// Book holds the resting levels for one symbol. Bids are kept descending by
// price, asks ascending, so the best level of either side is at index 0.
// No two levels on a side ever share a price, and a zero-size level never
// persists. All methods are safe for concurrent use.
type Book struct {
	mu         sync.RWMutex
	symbol     domain.Symbol
	bids       []domain.BookLevel // descending
	asks       []domain.BookLevel // ascending
	lastUpdate time.Time
}

// New creates an empty book for the symbol.
func New(symbol domain.Symbol) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() domain.Symbol { return b.symbol }

// ApplySnapshot atomically replaces both sides. Zero-size levels in the
// snapshot are dropped; duplicate prices collapse to the last occurrence.
func (b *Book) ApplySnapshot(bids, asks []domain.BookLevel, ts time.Time) {
	newBids := normalize(bids, true)
	newAsks := normalize(asks, false)

	b.mu.Lock()
	b.bids = newBids
	b.asks = newAsks
	b.advanceClock(ts)
	b.mu.Unlock()
}

// ApplyDelta upserts or removes individual levels. A level with size zero
// removes that exact price; other levels are untouched. Deltas older than the
// book's last update are applied as given (venues replay them after
// reconnect), but the book clock only moves forward.
func (b *Book) ApplyDelta(bids, asks []domain.BookLevel, ts time.Time) {
	b.mu.Lock()
	for _, lvl := range bids {
		b.bids = upsert(b.bids, lvl, true)
	}
	for _, lvl := range asks {
		b.asks = upsert(b.asks, lvl, false)
	}
	b.advanceClock(ts)
	b.mu.Unlock()
}

// BestBid returns the highest bid level, or false on an empty side.
func (b *Book) BestBid() (domain.BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return domain.BookLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask level, or false on an empty side.
func (b *Book) BestAsk() (domain.BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return domain.BookLevel{}, false
	}
	return b.asks[0], true
}

// Spread returns best ask minus best bid, only when both sides are non-empty.
func (b *Book) Spread() (domain.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return domain.Price{}, false
	}
	return b.asks[0].Price.Sub(b.bids[0].Price), true
}

// TopN returns up to n levels of one side in side-correct order (best first).
// The returned slice is a copy.
func (b *Book) TopN(side BookSide, n int) []domain.BookLevel {
	if n <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.bids
	if side == SideAsks {
		src = b.asks
	}
	if n > len(src) {
		n = len(src)
	}
	out := make([]domain.BookLevel, n)
	copy(out, src[:n])
	return out
}

// Depth returns the number of levels on each side.
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids), len(b.asks)
}

// LastUpdate returns the book's monotonic update timestamp.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// State builds the per-symbol summary handed to strategies, with up to
// depth levels of each side.
func (b *Book) State(depth int, lastPrice *domain.Price) domain.MarketState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := domain.MarketState{
		Symbol:    b.symbol,
		LastPrice: lastPrice,
		Timestamp: b.lastUpdate,
	}
	if len(b.bids) > 0 {
		lvl := b.bids[0]
		st.BestBid = &lvl
	}
	if len(b.asks) > 0 {
		lvl := b.asks[0]
		st.BestAsk = &lvl
	}
	if st.BestBid != nil && st.BestAsk != nil {
		spread := st.BestAsk.Price.Sub(st.BestBid.Price)
		st.Spread = &spread
	}
	if depth > 0 {
		nb, na := depth, depth
		if nb > len(b.bids) {
			nb = len(b.bids)
		}
		if na > len(b.asks) {
			na = len(b.asks)
		}
		st.Bids = append([]domain.BookLevel(nil), b.bids[:nb]...)
		st.Asks = append([]domain.BookLevel(nil), b.asks[:na]...)
	}
	return st
}

// advanceClock moves lastUpdate forward only; out-of-order deltas never
// rewind the book clock. Callers hold the write lock.
func (b *Book) advanceClock(ts time.Time) {
	if ts.After(b.lastUpdate) {
		b.lastUpdate = ts
	}
}

// search locates price within levels sorted for the given side, returning the
// insertion index and whether an exact match exists at that index.
func search(levels []domain.BookLevel, price domain.Price, descending bool) (int, bool) {
	i := sort.Search(len(levels), func(i int) bool {
		if descending {
			return levels[i].Price.Cmp(price) <= 0
		}
		return levels[i].Price.Cmp(price) >= 0
	})
	if i < len(levels) && levels[i].Price.Equal(price) {
		return i, true
	}
	return i, false
}

// upsert inserts, replaces, or removes (size zero) a single level, keeping
// the slice sorted. O(log L) to locate, O(L) to shift.
func upsert(levels []domain.BookLevel, lvl domain.BookLevel, descending bool) []domain.BookLevel {
	i, found := search(levels, lvl.Price, descending)
	switch {
	case lvl.Size.IsZero():
		if found {
			levels = append(levels[:i], levels[i+1:]...)
		}
	case found:
		levels[i].Size = lvl.Size
	default:
		levels = append(levels, domain.BookLevel{})
		copy(levels[i+1:], levels[i:])
		levels[i] = lvl
	}
	return levels
}

// normalize sorts snapshot levels for the side, dropping zero sizes and
// collapsing duplicate prices to the last occurrence.
func normalize(levels []domain.BookLevel, descending bool) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(levels))
	for _, lvl := range levels {
		out = upsert(out, lvl, descending)
	}
	return out
}
