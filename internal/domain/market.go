package domain

import "time"

// BookLevel is a single (price, size) entry on one side of an order book.
// In a delta, a level with size exactly zero removes that price level.
type BookLevel struct {
	Price Price
	Size  Size
}

// MarketEventType discriminates normalized market-data events.
type MarketEventType string

const (
	MarketEventSnapshot MarketEventType = "snapshot"
	MarketEventDelta    MarketEventType = "delta"
	MarketEventTrade    MarketEventType = "trade"
)

// MarketEvent is one normalized event from a market data source. Snapshot and
// Delta carry Bids/Asks; Trade carries TradePrice/TradeSize/TradeSide.
type MarketEvent struct {
	Type       MarketEventType
	Symbol     Symbol
	Bids       []BookLevel
	Asks       []BookLevel
	TradePrice Price
	TradeSize  Size
	TradeSide  Side
	Timestamp  time.Time
}

// MarketState is the per-symbol summary handed to strategies. It is a value
// copy: strategies cannot reach back into live book state.
type MarketState struct {
	Symbol    Symbol
	BestBid   *BookLevel
	BestAsk   *BookLevel
	Spread    *Price      // ask - bid, only when both sides are non-empty
	LastPrice *Price      // most recent trade print, if any
	Bids      []BookLevel // top-of-book depth, best first
	Asks      []BookLevel
	Timestamp time.Time
}
