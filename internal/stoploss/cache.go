package stoploss

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
	"go.uber.org/zap"
)

// ATRMetrics is the volatility measure cached for one symbol
type ATRMetrics struct {
	ATR       float64   `json:"atr"`
	Distance  float64   `json:"distance"` // ATR x multiplier
	UpdatedAt time.Time `json:"updated_at"`
}

// cacheEntry is either a successful measurement or a sticky failure.
// Both kinds stay authoritative until the TTL elapses.
type cacheEntry struct {
	metrics  ATRMetrics
	storedAt time.Time
	failed   bool
}

func (e *cacheEntry) fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && now.Sub(e.storedAt) < ttl
}

// CacheOption configures an ATRCache
type CacheOption func(*ATRCache)

// WithCacheLogger sets the logger used for fetch diagnostics
func WithCacheLogger(log *zap.Logger) CacheOption {
	return func(c *ATRCache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock replaces time.Now, mainly for TTL tests
func WithClock(now func() time.Time) CacheOption {
	return func(c *ATRCache) {
		if now != nil {
			c.now = now
		}
	}
}

// ATRCache holds the ATR stop distance per symbol.
//
// Lookups for the same symbol are serialised: the freshness check, the candle fetch and
// the entry write happen under one per-symbol lock, so concurrent callers never fetch a
// stale symbol twice. Different symbols proceed independently.
type ATRCache struct {
	source marketdata.CandleSource
	rule   ATRRule
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
	locks   map[string]*sync.Mutex
}

// NewATRCache creates a cache that computes rule's ATR from source candles
func NewATRCache(source marketdata.CandleSource, rule ATRRule, opts ...CacheOption) *ATRCache {
	c := &ATRCache{
		source:  source,
		rule:    rule,
		log:     logger.Named("stoploss"),
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the ATR metrics for symbol, fetching candles when the cached entry is
// missing or older than the rule's TTL. force bypasses the TTL.
// It reports false when no usable candle data is available; that failure is cached too.
func (c *ATRCache) Get(ctx context.Context, symbol string, force bool) (ATRMetrics, bool) {
	lock := c.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	return c.get(ctx, symbol, force)
}

// Refresh evicts and re-fetches each distinct symbol, returning the metrics of those
// that succeeded. Scheduling refreshes is up to the caller.
func (c *ATRCache) Refresh(ctx context.Context, symbols []string) map[string]ATRMetrics {
	refreshed := make(map[string]ATRMetrics)

	for _, symbol := range dedupe(symbols) {
		metrics, ok := c.refreshOne(ctx, symbol)
		if !ok {
			continue
		}
		refreshed[symbol] = metrics
		c.log.Info("ATR refreshed",
			logger.String("symbol", symbol),
			logger.Float64("atr", metrics.ATR),
			logger.Int("period", c.rule.Period),
			logger.String("timeframe", c.rule.Timeframe),
		)
	}

	return refreshed
}

func (c *ATRCache) refreshOne(ctx context.Context, symbol string) (ATRMetrics, bool) {
	lock := c.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()

	return c.get(ctx, symbol, true)
}

// get must be called with the symbol lock held
func (c *ATRCache) get(ctx context.Context, symbol string, force bool) (ATRMetrics, bool) {
	now := c.now()

	if force {
		atrCacheLookupsTotal.WithLabelValues("forced").Inc()
		return c.load(ctx, symbol, now)
	}

	c.mu.Lock()
	entry := c.entries[symbol]
	c.mu.Unlock()

	if entry.fresh(now, c.rule.CacheTTL) {
		if entry.failed {
			atrCacheLookupsTotal.WithLabelValues("negative_hit").Inc()
			return ATRMetrics{}, false
		}
		atrCacheLookupsTotal.WithLabelValues("hit").Inc()
		return entry.metrics, true
	}

	atrCacheLookupsTotal.WithLabelValues("miss").Inc()
	return c.load(ctx, symbol, now)
}

func (c *ATRCache) load(ctx context.Context, symbol string, now time.Time) (ATRMetrics, bool) {
	start := time.Now()
	defer func() {
		atrFetchDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		candles []models.Candle
		lastErr error
	)
	for _, candidate := range candidateSymbols(symbol) {
		fetched, err := c.source.FetchCandles(ctx, candidate, c.rule.Timeframe, c.rule.CandleLimit())
		if err != nil {
			lastErr = err
			continue
		}
		if len(fetched) > 0 {
			candles = fetched
			break
		}
	}

	if len(candles) == 0 {
		if lastErr != nil {
			atrFetchTotal.WithLabelValues("error").Inc()
			c.log.Error("ATR candle fetch failed",
				logger.String("symbol", symbol),
				logger.ErrorField(lastErr),
			)
		} else {
			atrFetchTotal.WithLabelValues("empty").Inc()
			c.log.Warn("No candles available for ATR",
				logger.String("symbol", symbol),
				logger.String("timeframe", c.rule.Timeframe),
			)
		}
		c.storeFailure(symbol, now)
		return ATRMetrics{}, false
	}

	atr, ok := ComputeATR(candles, c.rule.Period)
	if !ok {
		atrFetchTotal.WithLabelValues("insufficient").Inc()
		c.log.Warn("Insufficient candles for ATR",
			logger.String("symbol", symbol),
			logger.Int("required", c.rule.Period+1),
			logger.Int("received", len(candles)),
		)
		c.storeFailure(symbol, now)
		return ATRMetrics{}, false
	}

	metrics := ATRMetrics{
		ATR:       atr,
		Distance:  atr * c.rule.Multiplier,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.entries[symbol] = &cacheEntry{metrics: metrics, storedAt: now}
	c.mu.Unlock()

	atrFetchTotal.WithLabelValues("success").Inc()
	return metrics, true
}

func (c *ATRCache) storeFailure(symbol string, now time.Time) {
	c.mu.Lock()
	c.entries[symbol] = &cacheEntry{storedAt: now, failed: true}
	c.mu.Unlock()
}

func (c *ATRCache) symbolLock(symbol string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, exists := c.locks[symbol]
	if !exists {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}
	return lock
}

// candidateSymbols lists the identifiers to try for symbol: the symbol itself, then the
// part before ":" for settlement-suffixed ids such as "BTC/USDT:USDT".
func candidateSymbols(symbol string) []string {
	candidates := []string{symbol}
	if prefix, _, found := strings.Cut(symbol, ":"); found {
		candidates = append(candidates, prefix)
	}

	out := make([]string, 0, len(candidates))
	for _, candidate := range dedupe(candidates) {
		if candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

// dedupe drops repeated strings, keeping first-seen order
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
