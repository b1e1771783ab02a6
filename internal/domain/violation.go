package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ViolationKind tags the reason a candidate order failed a risk check.
type ViolationKind string

const (
	ViolationMaxOrderSize        ViolationKind = "exceeds-max-order-size"
	ViolationMaxOrderValue       ViolationKind = "exceeds-max-value"
	ViolationPositionLimit       ViolationKind = "exceeds-position-limit"
	ViolationInsufficientBalance ViolationKind = "insufficient-balance"
	ViolationRateLimit           ViolationKind = "rate-limit"
	ViolationExposureLimit       ViolationKind = "exposure-limit"
	ViolationOpenOrdersLimit     ViolationKind = "open-orders-limit"
	ViolationCustom              ViolationKind = "custom"
)

// RiskViolation is returned when an order fails a risk rule. It implements
// error and carries enough structure that every rejection can be attributed
// to a specific rule, symbol, and limit in logs and reports.
type RiskViolation struct {
	Kind     ViolationKind
	Rule     string // name of the rule that fired
	Symbol   Symbol
	ClientID string
	Limit    decimal.Decimal
	Observed decimal.Decimal
	Message  string
}

func (v *RiskViolation) Error() string {
	if v.Message != "" {
		return fmt.Sprintf("risk: %s (%s): %s", v.Rule, v.Kind, v.Message)
	}
	return fmt.Sprintf("risk: %s (%s): observed %s exceeds limit %s for %s",
		v.Rule, v.Kind, v.Observed, v.Limit, v.Symbol)
}
