package marketdata

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/models"
)

// FetchCall records one FetchCandles invocation on a MockSource
type FetchCall struct {
	Symbol    string
	Timeframe string
	Limit     int
}

// MockSource is an in-memory CandleSource for tests and local runs
type MockSource struct {
	mu        sync.Mutex
	candles   map[string][]models.Candle
	errs      map[string]error
	calls     []FetchCall
	synthetic bool
}

// NewMockSource creates a mock source. With synthetic set, symbols without configured
// candles get a deterministic random walk instead of an empty series.
func NewMockSource(synthetic bool) *MockSource {
	return &MockSource{
		candles:   make(map[string][]models.Candle),
		errs:      make(map[string]error),
		synthetic: synthetic,
	}
}

func (m *MockSource) Name() string {
	return ProviderMock
}

func (m *MockSource) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MockSource) Close() error {
	return nil
}

// SetCandles configures the series returned for symbol
func (m *MockSource) SetCandles(symbol string, candles []models.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// SetError makes every fetch of symbol fail with err (nil clears it)
func (m *MockSource) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, symbol)
		return
	}
	m.errs[symbol] = err
}

// Calls returns a copy of the recorded fetches
func (m *MockSource) Calls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FetchCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many fetches were made for symbol
func (m *MockSource) CallCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Symbol == symbol {
			n++
		}
	}
	return n
}

// FetchCandles implements CandleSource
func (m *MockSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, FetchCall{Symbol: symbol, Timeframe: timeframe, Limit: limit})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, exists := m.errs[symbol]; exists {
		return nil, err
	}

	series, exists := m.candles[symbol]
	if !exists && m.synthetic {
		step, err := models.ParseTimeframe(timeframe)
		if err != nil {
			return nil, err
		}
		series = RandomWalk(symbol, limit, step, time.Now().Truncate(step))
	}

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]models.Candle, len(series))
	copy(out, series)
	return out, nil
}

// RandomWalk generates n candles ending at end, seeded by symbol so repeated calls agree
func RandomWalk(symbol string, n int, step time.Duration, end time.Time) []models.Candle {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := 50 + rng.Float64()*150
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.02
		high := max(open, price) * (1 + rng.Float64()*0.005)
		low := min(open, price) * (1 - rng.Float64()*0.005)
		candles = append(candles, models.Candle{
			Timestamp: end.Add(-time.Duration(n-i) * step),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + rng.Float64()*9000,
		})
	}
	return candles
}
