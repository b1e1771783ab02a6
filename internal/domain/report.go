package domain

import "time"

// OrderStatus tracks the venue-confirmed order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// ExecutionReport is a venue-confirmed update to an order's state. It is the
// single source of truth for order transitions: OrderManager, RiskEngine, and
// the ShadowLedger are updated exclusively from reports, never from
// order-placement calls.
type ExecutionReport struct {
	OrderID       string
	ClientID      string
	Symbol        Symbol
	Exchange      string
	Side          Side
	Status        OrderStatus
	FilledSize    Size
	RemainingSize Size
	AvgPrice      *Price // set once any quantity has filled
	RejectReason  string // populated when Status == OrderStatusRejected
	Timestamp     time.Time
}

// LastFill returns the fill price to use for ledger accounting: the average
// price when present.
func (r ExecutionReport) LastFill() (Price, bool) {
	if r.AvgPrice == nil {
		return Price{}, false
	}
	return *r.AvgPrice, true
}
