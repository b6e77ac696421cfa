package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

// TimescaleSource builds candles from the 1-minute bars table in TimescaleDB
type TimescaleSource struct {
	db    *sql.DB
	query string
}

// NewTimescaleSource opens and pings the database described by dbConfig
func NewTimescaleSource(dbConfig config.DatabaseConfig) (*TimescaleSource, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to TimescaleDB",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("table", dbConfig.BarsTable),
	)

	return NewTimescaleSourceFromDB(db, dbConfig.BarsTable), nil
}

// NewTimescaleSourceFromDB wraps an existing connection pool
func NewTimescaleSourceFromDB(db *sql.DB, barsTable string) *TimescaleSource {
	return &TimescaleSource{
		db:    db,
		query: candleQuery(barsTable),
	}
}

// candleQuery aggregates 1-minute bars into timeframe buckets, keeping the most recent
// $3 buckets in chronological order
func candleQuery(barsTable string) string {
	return fmt.Sprintf(`
		SELECT bucket, open, high, low, close, volume
		FROM (
			SELECT time_bucket($2 * INTERVAL '1 second', timestamp) AS bucket,
				first(open, timestamp) AS open,
				max(high) AS high,
				min(low) AS low,
				last(close, timestamp) AS close,
				sum(volume) AS volume
			FROM %s
			WHERE symbol = $1
			GROUP BY bucket
			ORDER BY bucket DESC
			LIMIT $3
		) recent
		ORDER BY bucket ASC
	`, pq.QuoteIdentifier(barsTable))
}

func (s *TimescaleSource) Name() string {
	return ProviderTimescale
}

func (s *TimescaleSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *TimescaleSource) Close() error {
	return s.db.Close()
}

// FetchCandles implements CandleSource
func (s *TimescaleSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := s.fetchCandles(ctx, symbol, timeframe, limit)
	recordRequest(ProviderTimescale, len(candles), err)
	return candles, err
}

func (s *TimescaleSource) fetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	bucket, err := models.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.query, symbol, int64(bucket/time.Second), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return candles, nil
}
