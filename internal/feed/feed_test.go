package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoval/gotrader/internal/domain"
)

func lvl(price, size string) domain.BookLevel {
	return domain.BookLevel{Price: domain.MustPrice(price), Size: domain.MustSize(size)}
}

func TestNormalizeSnapshot(t *testing.T) {
	ev, ok := normalize(wsMessage{
		Type:   "snapshot",
		Symbol: "BTC-USDT",
		Bids:   [][2]string{{"100", "1"}, {"99", "2"}},
		Asks:   [][2]string{{"101", "3"}},
		TsMs:   1_700_000_000_000,
	})

	require.True(t, ok)
	assert.Equal(t, domain.MarketEventSnapshot, ev.Type)
	assert.Equal(t, domain.Symbol("BTC-USDT"), ev.Symbol)
	require.Len(t, ev.Bids, 2)
	assert.Equal(t, lvl("100", "1"), ev.Bids[0])
	require.Len(t, ev.Asks, 1)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), ev.Timestamp)
}

func TestNormalizeTrade(t *testing.T) {
	ev, ok := normalize(wsMessage{
		Type:   "trade",
		Symbol: "ETH-USDT",
		Price:  "2000.5",
		Size:   "0.25",
		Side:   "sell",
		TsMs:   1_700_000_000_000,
	})

	require.True(t, ok)
	assert.Equal(t, domain.MarketEventTrade, ev.Type)
	assert.True(t, ev.TradePrice.Equal(domain.MustPrice("2000.5")))
	assert.True(t, ev.TradeSize.Equal(domain.MustSize("0.25")))
	assert.Equal(t, domain.SideSell, ev.TradeSide)
}

func TestNormalizeDropsMalformed(t *testing.T) {
	cases := map[string]wsMessage{
		"unknown type":  {Type: "heartbeat", Symbol: "BTC-USDT"},
		"empty symbol":  {Type: "snapshot", Symbol: " "},
		"bad bid price": {Type: "delta", Symbol: "BTC-USDT", Bids: [][2]string{{"abc", "1"}}},
		"bad trade":     {Type: "trade", Symbol: "BTC-USDT", Price: "100", Size: "1", Side: "short"},
	}
	for name, msg := range cases {
		_, ok := normalize(msg)
		assert.False(t, ok, name)
	}
}

func TestReplayServesSubscribedSymbolsInOrder(t *testing.T) {
	events := []domain.MarketEvent{
		{Type: domain.MarketEventSnapshot, Symbol: "BTC-USDT", Timestamp: time.Now()},
		{Type: domain.MarketEventDelta, Symbol: "ETH-USDT", Timestamp: time.Now()},
		{Type: domain.MarketEventDelta, Symbol: "BTC-USDT", Timestamp: time.Now()},
	}
	r := NewReplaySource(events, 0)
	ctx := context.Background()
	require.NoError(t, r.Subscribe(ctx, []domain.Symbol{"BTC-USDT"}))

	first, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketEventSnapshot, first.Type)

	second, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Symbol("BTC-USDT"), second.Symbol, "unsubscribed symbols are skipped")

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrStreamClosed, "script exhausted")
}

func TestReplayCloseStopsStream(t *testing.T) {
	r := NewReplaySource([]domain.MarketEvent{
		{Type: domain.MarketEventSnapshot, Symbol: "BTC-USDT"},
	}, 0)
	ctx := context.Background()
	require.NoError(t, r.Subscribe(ctx, []domain.Symbol{"BTC-USDT"}))
	require.NoError(t, r.Close())

	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrStreamClosed)
	assert.False(t, r.IsConnected())
}

func TestReplayLastUpdateTracksServedEvents(t *testing.T) {
	ts := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	r := NewReplaySource([]domain.MarketEvent{
		{Type: domain.MarketEventSnapshot, Symbol: "BTC-USDT", Timestamp: ts},
	}, 0)
	ctx := context.Background()
	require.NoError(t, r.Subscribe(ctx, []domain.Symbol{"BTC-USDT"}))

	_, ok := r.LastUpdate("BTC-USDT")
	assert.False(t, ok, "nothing served yet")

	_, err := r.Next(ctx)
	require.NoError(t, err)

	got, ok := r.LastUpdate("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, ts, got)
}
