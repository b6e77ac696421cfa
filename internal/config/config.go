package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the stop guard service
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// StopLoss is the raw stop-loss setting: a percentage ("5") or "<period>ATR" ("14ATR")
	StopLoss string

	Database   DatabaseConfig
	Redis      RedisConfig
	MarketData MarketDataConfig
	Guard      GuardConfig
	API        APIConfig
}

// DatabaseConfig holds TimescaleDB configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BarsTable       string // 1-minute bars aggregated into candles
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MarketDataConfig selects and configures the candle provider
type MarketDataConfig struct {
	Provider       string // "okx", "timescale", "redis" or "mock"
	OKX            OKXConfig
	RedisKeyPrefix string
}

// OKXConfig holds OKX REST configuration
type OKXConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// GuardConfig holds the scheduled ATR refresh configuration
type GuardConfig struct {
	Symbols         []string
	RefreshInterval time.Duration // 0 disables scheduled refreshes
}

// APIConfig holds HTTP API configuration
type APIConfig struct {
	Port           int
	JWTSecret      string
	RateLimitRPS   int
	RateLimitBurst int
	// TrustedProxies are peer IPs whose X-Forwarded-For / X-Real-IP headers are honoured
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

var validProviders = map[string]bool{
	"okx":       true,
	"timescale": true,
	"redis":     true,
	"mock":      true,
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		StopLoss:    getEnv("STOP_LOSS", "5"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "market_data"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			BarsTable:       getEnv("DB_BARS_TABLE", "bars_1m"),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
		},
		MarketData: MarketDataConfig{
			Provider: strings.ToLower(getEnv("MARKET_DATA_PROVIDER", "okx")),
			OKX: OKXConfig{
				BaseURL:        strings.TrimRight(getEnv("OKX_BASE_URL", "https://www.okx.com"), "/"),
				RequestTimeout: getEnvAsDuration("OKX_REQUEST_TIMEOUT", 10*time.Second),
				RateLimitRPS:   getEnvAsFloat("OKX_RATE_LIMIT_RPS", 10),
				RateLimitBurst: getEnvAsInt("OKX_RATE_LIMIT_BURST", 5),
			},
			RedisKeyPrefix: getEnv("REDIS_CANDLE_KEY_PREFIX", "candles"),
		},
		Guard: GuardConfig{
			Symbols:         getEnvAsStringSlice("GUARD_SYMBOLS", []string{}),
			RefreshInterval: getEnvAsDuration("GUARD_REFRESH_INTERVAL", 5*time.Minute),
		},
		API: APIConfig{
			Port:           getEnvAsInt("API_PORT", 8090),
			JWTSecret:      getEnv("API_JWT_SECRET", ""),
			RateLimitRPS:   getEnvAsInt("API_RATE_LIMIT_RPS", 50),
			RateLimitBurst: getEnvAsInt("API_RATE_LIMIT_BURST", 100),
			TrustedProxies: getEnvAsStringSlice("API_TRUSTED_PROXIES", nil),
			ReadTimeout:    getEnvAsDuration("API_READ_TIMEOUT", 5*time.Second),
			WriteTimeout:   getEnvAsDuration("API_WRITE_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StopLoss) == "" {
		return fmt.Errorf("STOP_LOSS is required")
	}
	if !validProviders[c.MarketData.Provider] {
		return fmt.Errorf("MARKET_DATA_PROVIDER %q is not supported", c.MarketData.Provider)
	}

	switch c.MarketData.Provider {
	case "okx":
		if c.MarketData.OKX.BaseURL == "" {
			return fmt.Errorf("OKX_BASE_URL is required")
		}
		if c.MarketData.OKX.RateLimitRPS <= 0 {
			return fmt.Errorf("OKX_RATE_LIMIT_RPS must be positive")
		}
	case "timescale":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.BarsTable == "" {
			return fmt.Errorf("DB_BARS_TABLE is required")
		}
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required")
		}
	}

	if c.Guard.RefreshInterval < 0 {
		return fmt.Errorf("GUARD_REFRESH_INTERVAL cannot be negative")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("API_PORT must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Split by comma and trim spaces
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
