package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisSource reads candle snapshots kept in Redis lists, one JSON candle per element,
// oldest first, under "<prefix>:<symbol>:<timeframe>"
type RedisSource struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSource connects to Redis and verifies the connection
func NewRedisSource(cfg config.RedisConfig, prefix string) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)

	return NewRedisSourceFromClient(rdb, prefix), nil
}

// NewRedisSourceFromClient wraps an existing client
func NewRedisSourceFromClient(client redis.UniversalClient, prefix string) *RedisSource {
	if prefix == "" {
		prefix = "candles"
	}
	return &RedisSource{client: client, prefix: prefix}
}

// CandleKey returns the list key holding symbol's candles for timeframe
func CandleKey(prefix, symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, symbol, timeframe)
}

func (s *RedisSource) Name() string {
	return ProviderRedis
}

func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

// FetchCandles implements CandleSource
func (s *RedisSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := s.fetchCandles(ctx, symbol, timeframe, limit)
	recordRequest(ProviderRedis, len(candles), err)
	return candles, err
}

func (s *RedisSource) fetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		return nil, nil
	}

	key := CandleKey(s.prefix, symbol, timeframe)
	values, err := s.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return decodeCandles(values)
}

// StoreCandles replaces the snapshot for symbol/timeframe, keeping at most maxLen
// of the newest candles. candles must be oldest first.
func (s *RedisSource) StoreCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle, maxLen int) error {
	if len(candles) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(candles))
	for i := range candles {
		data, err := sonic.MarshalString(&candles[i])
		if err != nil {
			return fmt.Errorf("failed to marshal candle: %w", err)
		}
		values = append(values, data)
	}

	key := CandleKey(s.prefix, symbol, timeframe)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, values...)
	if maxLen > 0 {
		pipe.LTrim(ctx, key, int64(-maxLen), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func decodeCandles(values []string) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(values))
	for _, v := range values {
		var c models.Candle
		if err := sonic.UnmarshalString(v, &c); err != nil {
			return nil, fmt.Errorf("failed to decode candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}
