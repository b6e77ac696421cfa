package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLC bar of a market-data series
type Candle struct {
	Timestamp time.Time `json:"timestamp"` // Start of the bar
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate validates a Candle
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	if c.High < c.Low {
		return ErrInvalidBar
	}
	if c.Close <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// ParseTimeframe converts a timeframe such as "15m", "1h" or "1d" into a duration.
// Minutes are lower-case "m"; hour, day and week units are case-insensitive.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	tf := strings.TrimSpace(timeframe)
	if len(tf) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	var unit time.Duration
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h', 'H':
		unit = time.Hour
	case 'd', 'D':
		unit = 24 * time.Hour
	case 'w', 'W':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	return time.Duration(n) * unit, nil
}
