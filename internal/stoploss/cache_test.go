package stoploss

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type cacheFixture struct {
	cache  *ATRCache
	source *marketdata.MockSource
	clock  *fakeClock
	logs   *observer.ObservedLogs
}

func newCacheFixture(t *testing.T, period int) *cacheFixture {
	t.Helper()

	rule, err := NewATRRule(period)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	source := marketdata.NewMockSource(false)
	clock := newFakeClock()

	return &cacheFixture{
		cache:  NewATRCache(source, rule, WithClock(clock.Now), WithCacheLogger(zap.New(core))),
		source: source,
		clock:  clock,
		logs:   logs,
	}
}

func TestCacheEntry_Fresh(t *testing.T) {
	stored := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := &cacheEntry{storedAt: stored}

	assert.True(t, entry.fresh(stored, time.Minute))
	assert.True(t, entry.fresh(stored.Add(59*time.Second), time.Minute))
	assert.False(t, entry.fresh(stored.Add(time.Minute), time.Minute), "expires exactly at the TTL")

	var missing *cacheEntry
	assert.False(t, missing.fresh(stored, time.Minute))
}

func TestATRCache_Get(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))

	metrics, ok := f.cache.Get(context.Background(), "BTC-USDT", false)
	require.True(t, ok)
	assert.Equal(t, 1.0, metrics.ATR)
	assert.Equal(t, 2.0, metrics.Distance)
	assert.Equal(t, f.clock.Now(), metrics.UpdatedAt)

	calls := f.source.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, marketdata.FetchCall{Symbol: "BTC-USDT", Timeframe: "15m", Limit: 28}, calls[0])
}

func TestATRCache_FreshEntryIsReused(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))
	ctx := context.Background()

	first, ok := f.cache.Get(ctx, "BTC-USDT", false)
	require.True(t, ok)

	f.clock.Advance(59 * time.Second)
	second, ok := f.cache.Get(ctx, "BTC-USDT", false)
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.source.CallCount("BTC-USDT"), "no fetch within TTL")

	f.clock.Advance(time.Second)
	_, ok = f.cache.Get(ctx, "BTC-USDT", false)
	require.True(t, ok)
	assert.Equal(t, 2, f.source.CallCount("BTC-USDT"), "exactly one fetch after TTL")
}

func TestATRCache_NegativeCaching(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetError("BTC-USDT", errors.New("exchange unavailable"))
	ctx := context.Background()

	_, ok := f.cache.Get(ctx, "BTC-USDT", false)
	assert.False(t, ok)

	_, ok = f.cache.Get(ctx, "BTC-USDT", false)
	assert.False(t, ok)
	assert.Equal(t, 1, f.source.CallCount("BTC-USDT"), "failure is cached within TTL")

	// recovery is only noticed once the negative entry expires
	f.source.SetError("BTC-USDT", nil)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))

	f.clock.Advance(30 * time.Second)
	_, ok = f.cache.Get(ctx, "BTC-USDT", false)
	assert.False(t, ok)
	assert.Equal(t, 1, f.source.CallCount("BTC-USDT"))

	f.clock.Advance(30 * time.Second)
	_, ok = f.cache.Get(ctx, "BTC-USDT", false)
	assert.True(t, ok)
	assert.Equal(t, 2, f.source.CallCount("BTC-USDT"))
}

func TestATRCache_ForceBypassesTTL(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetError("BTC-USDT", errors.New("timeout"))
	ctx := context.Background()

	_, ok := f.cache.Get(ctx, "BTC-USDT", false)
	require.False(t, ok)

	f.source.SetError("BTC-USDT", nil)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))

	_, ok = f.cache.Get(ctx, "BTC-USDT", true)
	assert.True(t, ok)

	_, ok = f.cache.Get(ctx, "BTC-USDT", true)
	assert.True(t, ok)
	assert.Equal(t, 3, f.source.CallCount("BTC-USDT"))
}

func TestATRCache_SymbolFallback(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC", flatCandles(30, 100, 0.5))
	ctx := context.Background()

	metrics, ok := f.cache.Get(ctx, "BTC:USDT", false)
	require.True(t, ok)
	assert.Equal(t, 2.0, metrics.Distance)

	calls := f.source.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "BTC:USDT", calls[0].Symbol)
	assert.Equal(t, "BTC", calls[1].Symbol)

	// the result is cached under the requested symbol
	_, ok = f.cache.Get(ctx, "BTC:USDT", false)
	require.True(t, ok)
	assert.Equal(t, 1, f.source.CallCount("BTC:USDT"))
	assert.Equal(t, 1, f.source.CallCount("BTC"))
}

func TestATRCache_FallbackAfterError(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetError("BTC/USDT:USDT", errors.New("unknown instrument"))
	f.source.SetCandles("BTC/USDT", flatCandles(30, 100, 0.5))

	_, ok := f.cache.Get(context.Background(), "BTC/USDT:USDT", false)
	assert.True(t, ok)
	assert.Zero(t, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "a recovered candidate is not an error")
}

func TestATRCache_FirstCandidateWins(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC:USDT", flatCandles(30, 100, 0.5))
	f.source.SetCandles("BTC", flatCandles(30, 100, 5))

	metrics, ok := f.cache.Get(context.Background(), "BTC:USDT", false)
	require.True(t, ok)
	assert.Equal(t, 1.0, metrics.ATR)
	assert.Equal(t, 0, f.source.CallCount("BTC"))
}

func TestATRCache_AllCandidatesFail(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetError("BTC:USDT", errors.New("first failure"))
	f.source.SetError("BTC", errors.New("last failure"))

	_, ok := f.cache.Get(context.Background(), "BTC:USDT", false)
	assert.False(t, ok)

	errs := f.logs.FilterMessage("ATR candle fetch failed").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Equal(t, "last failure", errs[0].ContextMap()["error"])
}

func TestATRCache_NoCandles(t *testing.T) {
	f := newCacheFixture(t, 14)

	_, ok := f.cache.Get(context.Background(), "DOGE-USDT", false)
	assert.False(t, ok)

	warns := f.logs.FilterMessage("No candles available for ATR").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.Zero(t, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	_, ok = f.cache.Get(context.Background(), "DOGE-USDT", false)
	assert.False(t, ok)
	assert.Equal(t, 1, f.source.CallCount("DOGE-USDT"))
}

func TestATRCache_InsufficientCandles(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("ETH-USDT", flatCandles(14, 2000, 5))

	_, ok := f.cache.Get(context.Background(), "ETH-USDT", false)
	assert.False(t, ok)

	warns := f.logs.FilterMessage("Insufficient candles for ATR").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.EqualValues(t, 15, warns[0].ContextMap()["required"])
	assert.EqualValues(t, 14, warns[0].ContextMap()["received"])

	_, ok = f.cache.Get(context.Background(), "ETH-USDT", false)
	assert.False(t, ok)
	assert.Equal(t, 1, f.source.CallCount("ETH-USDT"), "insufficient data is cached as a failure")
}

func TestATRCache_Refresh(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))
	f.source.SetCandles("ETH-USDT", flatCandles(30, 2000, 5))
	ctx := context.Background()

	_, ok := f.cache.Get(ctx, "BTC-USDT", false)
	require.True(t, ok)

	refreshed := f.cache.Refresh(ctx, []string{"BTC-USDT", "ETH-USDT", "BTC-USDT", "XRP-USDT"})

	require.Len(t, refreshed, 2)
	assert.Equal(t, 1.0, refreshed["BTC-USDT"].ATR)
	assert.Equal(t, 10.0, refreshed["ETH-USDT"].ATR)
	assert.NotContains(t, refreshed, "XRP-USDT")

	assert.Equal(t, 2, f.source.CallCount("BTC-USDT"), "refresh ignores a fresh entry, once per symbol")
	assert.Equal(t, 1, f.source.CallCount("ETH-USDT"))
	assert.Equal(t, 1, f.source.CallCount("XRP-USDT"))

	infos := f.logs.FilterMessage("ATR refreshed").All()
	require.Len(t, infos, 2)
	assert.Equal(t, zapcore.InfoLevel, infos[0].Level)
	assert.Equal(t, "BTC-USDT", infos[0].ContextMap()["symbol"])
	assert.EqualValues(t, 14, infos[0].ContextMap()["period"])
	assert.Equal(t, "15m", infos[0].ContextMap()["timeframe"])

	// refreshed entries serve later lookups
	_, ok = f.cache.Get(ctx, "ETH-USDT", false)
	require.True(t, ok)
	assert.Equal(t, 1, f.source.CallCount("ETH-USDT"))
}

func TestATRCache_ConcurrentGetFetchesOnce(t *testing.T) {
	f := newCacheFixture(t, 14)
	f.source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.cache.Get(context.Background(), "BTC-USDT", false)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.source.CallCount("BTC-USDT"))
}

func TestCandidateSymbols(t *testing.T) {
	tests := []struct {
		symbol string
		want   []string
	}{
		{"BTC-USDT", []string{"BTC-USDT"}},
		{"BTC:USDT", []string{"BTC:USDT", "BTC"}},
		{"BTC/USDT:USDT", []string{"BTC/USDT:USDT", "BTC/USDT"}},
		{"A:B:C", []string{"A:B:C", "A"}},
		{":USDT", []string{":USDT"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, candidateSymbols(tt.symbol))
		})
	}
}
