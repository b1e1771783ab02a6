package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is a fixed-point decimal price. It is a distinct type from Size so the
// two can never be mixed up in arithmetic; multiplying a Price by a Size
// yields a plain decimal notional value, not another Price.
type Price struct {
	d decimal.Decimal
}

// NewPrice wraps a decimal as a Price.
func NewPrice(d decimal.Decimal) Price {
	return Price{d: d}
}

// ParsePrice parses a decimal string into a Price.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("domain: parse price %q: %w", s, err)
	}
	return Price{d: d}, nil
}

// MustPrice parses a decimal string and panics on failure. For constants and
// tests only.
func MustPrice(s string) Price {
	return Price{d: decimal.RequireFromString(s)}
}

// Decimal returns the underlying decimal value.
func (p Price) Decimal() decimal.Decimal { return p.d }

// Equal reports exact decimal equality.
func (p Price) Equal(o Price) bool { return p.d.Equal(o.d) }

// Cmp compares two prices: -1 if p < o, 0 if equal, +1 if p > o.
func (p Price) Cmp(o Price) int { return p.d.Cmp(o.d) }

// LessThan reports p < o.
func (p Price) LessThan(o Price) bool { return p.d.LessThan(o.d) }

// GreaterThan reports p > o.
func (p Price) GreaterThan(o Price) bool { return p.d.GreaterThan(o.d) }

// Sub returns p - o as a Price. Used for spreads.
func (p Price) Sub(o Price) Price { return Price{d: p.d.Sub(o.d)} }

// Mul returns the notional value price * size as a plain decimal.
func (p Price) Mul(s Size) decimal.Decimal { return p.d.Mul(s.d) }

// IsPositive reports p > 0.
func (p Price) IsPositive() bool { return p.d.IsPositive() }

// IsZero reports p == 0.
func (p Price) IsZero() bool { return p.d.IsZero() }

func (p Price) String() string { return p.d.String() }

// MarshalJSON encodes the price as a JSON number string.
func (p Price) MarshalJSON() ([]byte, error) { return p.d.MarshalJSON() }

// UnmarshalJSON decodes a JSON number or string into the price.
func (p *Price) UnmarshalJSON(b []byte) error { return p.d.UnmarshalJSON(b) }

// Size is a fixed-point decimal order or level quantity. Like Price it wraps
// a decimal and exposes only the operations that make sense for a quantity.
type Size struct {
	d decimal.Decimal
}

// NewSize wraps a decimal as a Size.
func NewSize(d decimal.Decimal) Size {
	return Size{d: d}
}

// ParseSize parses a decimal string into a Size.
func ParseSize(s string) (Size, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Size{}, fmt.Errorf("domain: parse size %q: %w", s, err)
	}
	return Size{d: d}, nil
}

// MustSize parses a decimal string and panics on failure. For constants and
// tests only.
func MustSize(s string) Size {
	return Size{d: decimal.RequireFromString(s)}
}

// Decimal returns the underlying decimal value.
func (s Size) Decimal() decimal.Decimal { return s.d }

// Equal reports exact decimal equality.
func (s Size) Equal(o Size) bool { return s.d.Equal(o.d) }

// Cmp compares two sizes: -1 if s < o, 0 if equal, +1 if s > o.
func (s Size) Cmp(o Size) int { return s.d.Cmp(o.d) }

// GreaterThan reports s > o.
func (s Size) GreaterThan(o Size) bool { return s.d.GreaterThan(o.d) }

// Add returns s + o.
func (s Size) Add(o Size) Size { return Size{d: s.d.Add(o.d)} }

// Sub returns s - o.
func (s Size) Sub(o Size) Size { return Size{d: s.d.Sub(o.d)} }

// IsPositive reports s > 0.
func (s Size) IsPositive() bool { return s.d.IsPositive() }

// IsZero reports s == 0.
func (s Size) IsZero() bool { return s.d.IsZero() }

func (s Size) String() string { return s.d.String() }

// MarshalJSON encodes the size as a JSON number string.
func (s Size) MarshalJSON() ([]byte, error) { return s.d.MarshalJSON() }

// UnmarshalJSON decodes a JSON number or string into the size.
func (s *Size) UnmarshalJSON(b []byte) error { return s.d.UnmarshalJSON(b) }

// Signed returns the size as a signed decimal delta for the given side:
// positive for buys, negative for sells.
func (s Size) Signed(side Side) decimal.Decimal {
	if side == SideSell {
		return s.d.Neg()
	}
	return s.d
}
