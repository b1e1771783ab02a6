package orderbook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
	"github.com/dkoval/gotrader/internal/orderbook"
)

func lvl(price, size string) domain.BookLevel {
	return domain.BookLevel{Price: domain.MustPrice(price), Size: domain.MustSize(size)}
}

func TestApplySnapshotOrdersSides(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot(
		[]domain.BookLevel{lvl("99.5", "1"), lvl("100.0", "2"), lvl("98.0", "3")},
		[]domain.BookLevel{lvl("102.0", "1"), lvl("101.0", "2"), lvl("103.0", "3")},
		time.Now(),
	)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(domain.MustPrice("100.0")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(domain.MustPrice("101.0")))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(domain.MustPrice("1.0")))
}

func TestBestIsExtremeAfterArbitraryUpdates(t *testing.T) {
	b := orderbook.New("ETH-USDT")
	b.ApplySnapshot(
		[]domain.BookLevel{lvl("10", "1")},
		[]domain.BookLevel{lvl("20", "1")},
		time.Now(),
	)

	deltas := [][2][]domain.BookLevel{
		{{lvl("11", "2"), lvl("9", "5")}, {lvl("19", "2")}},
		{{lvl("11", "0")}, {lvl("21", "4"), lvl("19", "0")}},
		{{lvl("12", "1"), lvl("10", "0")}, {lvl("18", "7")}},
	}
	for _, d := range deltas {
		b.ApplyDelta(d[0], d[1], time.Now())

		bids := b.TopN(orderbook.SideBids, 100)
		asks := b.TopN(orderbook.SideAsks, 100)

		if best, ok := b.BestBid(); ok {
			for _, l := range bids {
				assert.True(t, best.Price.Cmp(l.Price) >= 0, "best bid must be the maximum bid")
			}
		}
		if best, ok := b.BestAsk(); ok {
			for _, l := range asks {
				assert.True(t, best.Price.Cmp(l.Price) <= 0, "best ask must be the minimum ask")
			}
		}
		if spread, ok := b.Spread(); ok {
			assert.False(t, spread.LessThan(domain.MustPrice("0")), "spread must be non-negative")
		}
		// ordering within each side
		for i := 1; i < len(bids); i++ {
			assert.True(t, bids[i-1].Price.GreaterThan(bids[i].Price))
		}
		for i := 1; i < len(asks); i++ {
			assert.True(t, asks[i-1].Price.LessThan(asks[i].Price))
		}
	}
}

func TestZeroSizeRemovesExactLevel(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot(
		[]domain.BookLevel{lvl("100", "1"), lvl("99", "2"), lvl("98", "3")},
		nil,
		time.Now(),
	)

	b.ApplyDelta([]domain.BookLevel{lvl("99", "0")}, nil, time.Now())

	bids := b.TopN(orderbook.SideBids, 10)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(domain.MustPrice("100")))
	assert.True(t, bids[0].Size.Equal(domain.MustSize("1")))
	assert.True(t, bids[1].Price.Equal(domain.MustPrice("98")))
	assert.True(t, bids[1].Size.Equal(domain.MustSize("3")))

	// Removing an absent level is a no-op.
	b.ApplyDelta([]domain.BookLevel{lvl("97", "0")}, nil, time.Now())
	bidDepth, _ := b.Depth()
	assert.Equal(t, 2, bidDepth)
}

func TestDeltaUpsertsExistingLevel(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot(nil, []domain.BookLevel{lvl("101", "5")}, time.Now())

	b.ApplyDelta(nil, []domain.BookLevel{lvl("101", "9")}, time.Now())

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Size.Equal(domain.MustSize("9")))
	_, askDepth := b.Depth()
	assert.Equal(t, 1, askDepth, "upsert must not duplicate a price level")
}

func TestEmptyBookReturnsNoResults(t *testing.T) {
	b := orderbook.New("BTC-USDT")

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)
	assert.Empty(t, b.TopN(orderbook.SideBids, 5))
	assert.Empty(t, b.TopN(orderbook.SideAsks, 5))
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot([]domain.BookLevel{lvl("100", "1")}, []domain.BookLevel{lvl("101", "1")}, time.Now())
	b.ApplySnapshot([]domain.BookLevel{lvl("50", "1")}, []domain.BookLevel{lvl("51", "1")}, time.Now())

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(domain.MustPrice("50")))
	bidDepth, askDepth := b.Depth()
	assert.Equal(t, 1, bidDepth)
	assert.Equal(t, 1, askDepth)
}

func TestOutOfOrderDeltaAppliedClockMonotonic(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	now := time.Now()
	b.ApplySnapshot([]domain.BookLevel{lvl("100", "1")}, nil, now)

	// Stale delta still mutates the book, but never rewinds the clock.
	b.ApplyDelta([]domain.BookLevel{lvl("99", "4")}, nil, now.Add(-time.Second))

	bids := b.TopN(orderbook.SideBids, 10)
	require.Len(t, bids, 2)
	assert.Equal(t, now, b.LastUpdate())
}

func TestTopNClampsToDepth(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot(
		[]domain.BookLevel{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")},
		nil,
		time.Now(),
	)

	assert.Len(t, b.TopN(orderbook.SideBids, 2), 2)
	assert.Len(t, b.TopN(orderbook.SideBids, 10), 3)
	assert.Empty(t, b.TopN(orderbook.SideBids, 0))
}

func TestStateSummary(t *testing.T) {
	b := orderbook.New("BTC-USDT")
	b.ApplySnapshot(
		[]domain.BookLevel{lvl("100.00", "10")},
		[]domain.BookLevel{lvl("101.00", "10")},
		time.Now(),
	)

	st := b.State(5, nil)
	require.NotNil(t, st.BestBid)
	require.NotNil(t, st.BestAsk)
	require.NotNil(t, st.Spread)
	assert.True(t, st.Spread.Equal(domain.MustPrice("1.00")))
	assert.Len(t, st.Bids, 1)
	assert.Len(t, st.Asks, 1)
}
