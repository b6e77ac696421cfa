package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/api"
	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/guard"
	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/mohamedkhairy/stop-guard/internal/stoploss"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting stop guard service",
		logger.String("stop_loss", cfg.StopLoss),
		logger.String("provider", cfg.MarketData.Provider),
		logger.Int("port", cfg.API.Port),
	)

	// Market data is only opened when the rule needs candles
	rule, err := stoploss.ParseRule(cfg.StopLoss)
	if err != nil {
		logger.Fatal("Invalid STOP_LOSS setting",
			logger.String("stop_loss", cfg.StopLoss),
			logger.ErrorField(err),
		)
	}

	var provider marketdata.Provider
	if rule.Mode() == stoploss.ModeATR {
		provider, err = marketdata.NewProvider(cfg)
		if err != nil {
			logger.Fatal("Failed to initialize market data provider",
				logger.String("provider", cfg.MarketData.Provider),
				logger.ErrorField(err),
			)
		}
		defer provider.Close()
	}

	var source marketdata.CandleSource
	if provider != nil {
		source = provider
	}
	evaluator, err := stoploss.NewEvaluator(source, cfg.StopLoss)
	if err != nil {
		logger.Fatal("Failed to create stop evaluator", logger.ErrorField(err))
	}

	logger.Info("Stop rule configured",
		logger.String("mode", string(evaluator.Rule().Mode())),
		logger.String("rule", evaluator.Rule().String()),
	)

	// Keep the ATR cache warm for the configured symbols
	if rule.Mode() == stoploss.ModeATR {
		refresher := guard.NewRefresher(evaluator, guard.RefresherConfig{
			Symbols:  cfg.Guard.Symbols,
			Interval: cfg.Guard.RefreshInterval,
		})
		if err := refresher.Start(); err != nil {
			logger.Fatal("Failed to start ATR refresher", logger.ErrorField(err))
		}
		defer refresher.Stop()
	}

	var ready func(ctx context.Context) error
	if provider != nil {
		ready = provider.Ping
	}

	router := api.NewRouter(api.NewGuardHandler(evaluator), api.NewHealthHandler(ready))

	middlewares := api.ChainMiddleware(
		api.RequestIDMiddleware(),
		api.CORSMiddleware(),
		api.LoggingMiddleware(),
		api.ErrorHandlingMiddleware(),
		api.AuthMiddleware(api.NewAuthManager(cfg.API.JWTSecret)),
		api.RateLimitMiddleware(float64(cfg.API.RateLimitRPS), cfg.API.RateLimitBurst, cfg.API.TrustedProxies),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      middlewares(router),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
			logger.Bool("auth_enabled", cfg.API.JWTSecret != ""),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down stop guard service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	logger.Info("Stop guard service stopped")
}
