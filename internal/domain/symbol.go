package domain

import (
	"fmt"
	"strings"
)

// maxSymbolLen bounds symbol length; venue pair identifiers are short.
const maxSymbolLen = 32

// Symbol identifies a trading pair, e.g. "BTC-USDT". A Symbol obtained from
// NewSymbol is guaranteed non-empty, trimmed, and within length bounds.
type Symbol string

// NewSymbol validates and normalizes a trading-pair identifier.
func NewSymbol(s string) (Symbol, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("domain: symbol must not be empty")
	}
	if len(s) > maxSymbolLen {
		return "", fmt.Errorf("domain: symbol %q exceeds %d characters", s, maxSymbolLen)
	}
	return Symbol(s), nil
}

func (s Symbol) String() string { return string(s) }
