package domain

import "time"

// SignalKind identifies what a strategy wants the engine to do.
type SignalKind string

const (
	SignalPlaceOrder      SignalKind = "place_order"
	SignalCancelOrder     SignalKind = "cancel_order"
	SignalCancelAllOrders SignalKind = "cancel_all_orders"
	SignalUpdateOrder     SignalKind = "update_order"
)

// Signal is emitted by a strategy in response to market state. Order carries
// the candidate order for place/update signals; OrderID targets an existing
// order for cancel/update.
type Signal struct {
	ID        string // UUID, for dedup and log attribution
	Source    string // strategy name
	Kind      SignalKind
	Symbol    Symbol
	Order     *NewOrder
	OrderID   string
	Reason    string
	CreatedAt time.Time
}
