package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the risk engine's view of current inventory for a symbol.
// Size is signed: positive is long, negative is short. The record is zeroed
// when the position closes, never deleted.
type Position struct {
	Symbol        Symbol
	Exchange      string
	Size          decimal.Decimal // signed, positive = long
	AvgPrice      *Price          // weighted-average entry, nil when flat
	UnrealizedPnL *decimal.Decimal
	UpdatedAt     time.Time
}

// Notional returns |size| * avg price, or zero when the position is flat or
// has no average price yet.
func (p Position) Notional() decimal.Decimal {
	if p.AvgPrice == nil {
		return decimal.Decimal{}
	}
	return p.AvgPrice.Decimal().Mul(p.Size.Abs())
}

// Balance is a single-asset venue balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// TradingFees are the venue's maker/taker fee rates for a symbol.
type TradingFees struct {
	Symbol    Symbol
	MakerRate decimal.Decimal
	TakerRate decimal.Decimal
}

// TradeRecord is one fill in the shadow ledger's append-only trade log.
type TradeRecord struct {
	ID          string
	OrderID     string
	ClientID    string
	Symbol      Symbol
	Exchange    string
	Side        Side
	Price       Price
	Size        Size
	Notional    decimal.Decimal
	RealizedPnL decimal.Decimal // non-zero only on position-reducing fills
	Timestamp   time.Time
}

// PositionRecord is the shadow ledger's independently derived position for a
// symbol, used to cross-check the risk engine's view.
type PositionRecord struct {
	Symbol      Symbol
	Exchange    string
	Size        decimal.Decimal // signed
	AvgCost     decimal.Decimal // weighted-average cost, zero when flat
	RealizedPnL decimal.Decimal
	UpdatedAt   time.Time
}
