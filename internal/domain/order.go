package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType selects the order pricing mode.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// TimeInForce governs how long an order remains active on the venue.
type TimeInForce string

const (
	TIFGoodTillCancelled TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// NewOrder is a candidate order prior to venue submission. Values are
// immutable once constructed; the With* setters return modified copies so a
// risk-checked order can never be mutated behind the checker's back.
type NewOrder struct {
	Symbol      Symbol
	Exchange    string
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Price       *Price // required for limit orders, nil for market
	Size        Size
	ClientID    string
}

// WithClientID returns a copy with the client order id set.
func (o NewOrder) WithClientID(id string) NewOrder {
	o.ClientID = id
	return o
}

// WithSize returns a copy with the size replaced.
func (o NewOrder) WithSize(s Size) NewOrder {
	o.Size = s
	return o
}

// WithPrice returns a copy with the limit price replaced.
func (o NewOrder) WithPrice(p Price) NewOrder {
	o.Price = &p
	return o
}

// Notional returns price * size for limit orders. Market orders have no
// a-priori notional; the second return value is false.
func (o NewOrder) Notional() (decimal.Decimal, bool) {
	if o.Price == nil {
		return decimal.Decimal{}, false
	}
	return o.Price.Mul(o.Size), true
}

// SignedSize is the position delta this order would produce if fully filled:
// positive for buys, negative for sells.
func (o NewOrder) SignedSize() decimal.Decimal {
	return o.Size.Signed(o.Side)
}

// Validate checks structural correctness: a non-empty symbol and exchange, a
// positive size, and a positive price present exactly when the type requires
// one.
func (o NewOrder) Validate() error {
	if _, err := NewSymbol(string(o.Symbol)); err != nil {
		return err
	}
	if o.Exchange == "" {
		return fmt.Errorf("domain: order exchange must not be empty")
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("domain: invalid order side %q", o.Side)
	}
	if !o.Size.IsPositive() {
		return fmt.Errorf("domain: order size must be positive, got %s", o.Size)
	}
	switch o.Type {
	case OrderTypeLimit:
		if o.Price == nil || !o.Price.IsPositive() {
			return fmt.Errorf("domain: limit order requires a positive price")
		}
	case OrderTypeMarket:
		if o.Price != nil {
			return fmt.Errorf("domain: market order must not carry a price")
		}
	default:
		return fmt.Errorf("domain: invalid order type %q", o.Type)
	}
	return nil
}
