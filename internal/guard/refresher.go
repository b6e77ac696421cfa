package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/stoploss"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

// RefreshTarget is whatever holds the ATR cache to keep warm
type RefreshTarget interface {
	Refresh(ctx context.Context, symbols []string) map[string]stoploss.ATRMetrics
}

// RefresherConfig holds configuration for the scheduled refresher
type RefresherConfig struct {
	Symbols        []string      // Symbols to keep warm
	Interval       time.Duration // Time between refreshes; 0 only runs the warm-up
	RefreshTimeout time.Duration // Upper bound for one refresh round (default: 2 minutes)
}

// Refresher force-refreshes ATR metrics for a fixed symbol list on a ticker, so evaluations
// on the hot path rarely pay for a candle fetch.
type Refresher struct {
	target  RefreshTarget
	config  RefresherConfig
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRefresher creates a new refresher
func NewRefresher(target RefreshTarget, config RefresherConfig) *Refresher {
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		target: target,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start runs one warm-up refresh in the background and then refreshes every Interval
func (r *Refresher) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher is already running")
	}
	r.running = true
	r.mu.Unlock()

	if len(r.config.Symbols) == 0 {
		logger.Info("No guard symbols configured, scheduled ATR refresh disabled")
		return nil
	}

	logger.Info("Starting ATR refresher",
		logger.Strings("symbols", r.config.Symbols),
		logger.Duration("interval", r.config.Interval),
	)

	r.wg.Add(1)
	go r.run()

	return nil
}

// Stop cancels any in-flight refresh and waits for the loop to exit
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	logger.Info("Stopping ATR refresher")
	r.cancel()
	r.wg.Wait()
	logger.Info("ATR refresher stopped")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	r.RefreshNow()

	if r.config.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RefreshNow()
		}
	}
}

// RefreshNow refreshes every configured symbol once and returns how many succeeded
func (r *Refresher) RefreshNow() int {
	if r.ctx.Err() != nil {
		return 0
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.config.RefreshTimeout)
	defer cancel()

	start := time.Now()
	refreshed := r.target.Refresh(ctx, r.config.Symbols)

	logger.Debug("ATR refresh round finished",
		logger.Int("symbols", len(r.config.Symbols)),
		logger.Int("refreshed", len(refreshed)),
		logger.Duration("duration", time.Since(start)),
	)
	return len(refreshed)
}
