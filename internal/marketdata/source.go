package marketdata

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider names accepted by MARKET_DATA_PROVIDER
const (
	ProviderOKX       = "okx"
	ProviderTimescale = "timescale"
	ProviderRedis     = "redis"
	ProviderMock      = "mock"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "marketdata_requests_total",
		Help: "Total number of candle requests sent to market data providers",
	},
	[]string{"provider", "status"}, // "success", "empty" or "error"
)

// CandleSource supplies OHLC candles for a symbol
type CandleSource interface {
	// FetchCandles returns up to limit of the most recent candles for symbol on the given
	// timeframe, oldest first. An unknown symbol may yield an error or an empty slice.
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Provider is a CandleSource owned by the service
type Provider interface {
	CandleSource

	// Name returns the provider type (e.g., "okx", "timescale")
	Name() string

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases connections held by the provider
	Close() error
}

// NewProvider creates the provider selected by cfg.MarketData.Provider
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.MarketData.Provider {
	case ProviderOKX:
		return NewOKXSource(cfg.MarketData.OKX), nil
	case ProviderTimescale:
		return NewTimescaleSource(cfg.Database)
	case ProviderRedis:
		return NewRedisSource(cfg.Redis, cfg.MarketData.RedisKeyPrefix)
	case ProviderMock:
		return NewMockSource(true), nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownProvider, cfg.MarketData.Provider)
	}
}

// recordRequest counts one provider request by outcome
func recordRequest(provider string, candles int, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case candles == 0:
		status = "empty"
	}
	requestsTotal.WithLabelValues(provider, status).Inc()
}
