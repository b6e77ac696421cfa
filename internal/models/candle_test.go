package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandle_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		candle  Candle
		wantErr error
	}{
		{
			name:   "valid candle",
			candle: Candle{Timestamp: now, Open: 100, High: 101, Low: 99, Close: 100.5},
		},
		{
			name:    "zero timestamp",
			candle:  Candle{Open: 100, High: 101, Low: 99, Close: 100.5},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name:    "high below low",
			candle:  Candle{Timestamp: now, Open: 100, High: 98, Low: 99, Close: 100},
			wantErr: ErrInvalidBar,
		},
		{
			name:    "non-positive close",
			candle:  Candle{Timestamp: now, High: 1, Low: 0, Close: 0},
			wantErr: ErrInvalidPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candle.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4H", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1W", 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeframe(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "m", "0m", "-5m", "15", "15x", "1M"} {
		_, err := ParseTimeframe(bad)
		assert.ErrorIs(t, err, ErrInvalidTimeframe, "timeframe %q", bad)
	}
}
