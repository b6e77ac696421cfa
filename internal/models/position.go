package models

import (
	"fmt"
	"strings"
)

// Side is the direction of an open position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide parses "long" or "short" (case-insensitive)
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Position is the per-tick state a trading controller hands to the stop evaluator
type Position struct {
	Symbol       string  `json:"symbol"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	Side         Side    `json:"side"`
	ProfitPct    float64 `json:"profit_pct"` // Signed, in percent (-6 means a 6% loss)
}

// Validate validates a Position
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return ErrInvalidSymbol
	}
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return ErrInvalidPrice
	}
	if p.Side != SideLong && p.Side != SideShort {
		return fmt.Errorf("%w: %q", ErrInvalidSide, p.Side)
	}
	return nil
}
