package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/mohamedkhairy/stop-guard/internal/stoploss"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

// snapshotLimit is how many candles are kept per symbol, enough for periods up to 150
const snapshotLimit = 300

// candlesync copies OKX candles into Redis so stop guards running with
// MARKET_DATA_PROVIDER=redis share one exchange feed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if len(cfg.Guard.Symbols) == 0 {
		logger.Fatal("GUARD_SYMBOLS is required for candle sync")
	}

	timeframe := stoploss.DefaultATRTimeframe
	logger.Info("Starting candle sync",
		logger.Strings("symbols", cfg.Guard.Symbols),
		logger.String("timeframe", timeframe),
		logger.Duration("interval", cfg.Guard.RefreshInterval),
	)

	okx := marketdata.NewOKXSource(cfg.MarketData.OKX)
	defer okx.Close()

	store, err := marketdata.NewRedisSource(cfg.Redis, cfg.MarketData.RedisKeyPrefix)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	syncOnce := func() {
		start := time.Now()
		synced, err := marketdata.SyncSnapshots(ctx, okx, store, cfg.Guard.Symbols, timeframe, snapshotLimit)
		if err != nil {
			logger.Error("Candle sync incomplete",
				logger.Int("synced", synced),
				logger.ErrorField(err),
			)
			return
		}
		logger.Info("Candle sync finished",
			logger.Int("synced", synced),
			logger.Duration("duration", time.Since(start)),
		)
	}

	syncOnce()
	if cfg.Guard.RefreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Guard.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Candle sync stopped")
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}
