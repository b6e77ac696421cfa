package stoploss

import (
	"math"

	"github.com/mohamedkhairy/stop-guard/internal/models"
)

// ComputeATR returns the simple average of the last period true ranges of candles,
// which must be in chronological order. The first candle's true range is its high-low
// spread; later candles also consider the gap to the previous close.
//
// It needs at least period+1 candles and reports false otherwise.
func ComputeATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	trueRanges := make([]float64, 0, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prevClose := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
		}
		trueRanges = append(trueRanges, tr)
	}

	if len(trueRanges) < period {
		return 0, false
	}

	var sum float64
	for _, tr := range trueRanges[len(trueRanges)-period:] {
		sum += tr
	}

	return sum / float64(period), true
}
