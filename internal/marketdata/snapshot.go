package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

// SnapshotStore persists candle series for later reads (RedisSource implements it)
type SnapshotStore interface {
	StoreCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle, maxLen int) error
}

// SyncSnapshots copies the latest limit candles of each symbol from one source into store.
// It keeps going past failures and returns how many symbols were written along with the
// joined per-symbol errors.
func SyncSnapshots(ctx context.Context, from CandleSource, store SnapshotStore, symbols []string, timeframe string, limit int) (int, error) {
	var (
		synced int
		errs   []error
	)

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		candles, err := from.FetchCandles(ctx, symbol, timeframe, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		if len(candles) == 0 {
			logger.Warn("No candles to snapshot",
				logger.String("symbol", symbol),
				logger.String("timeframe", timeframe),
			)
			continue
		}

		if err := store.StoreCandles(ctx, symbol, timeframe, candles, limit); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		synced++

		logger.Debug("Stored candle snapshot",
			logger.String("symbol", symbol),
			logger.String("timeframe", timeframe),
			logger.Int("candles", len(candles)),
		)
	}

	return synced, errors.Join(errs...)
}
