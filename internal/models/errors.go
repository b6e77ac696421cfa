package models

import "errors"

var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidBar       = errors.New("invalid bar (high < low)")

	// ErrInvalidRule is returned when a stop-loss setting is neither a percentage nor "<n>ATR"
	ErrInvalidRule      = errors.New("invalid stop-loss rule")
	ErrInvalidSide      = errors.New("invalid position side")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
	ErrUnknownProvider  = errors.New("unknown market data provider")
)
