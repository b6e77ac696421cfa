package stoploss

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoploss_evaluations_total",
			Help: "Total number of stop-loss evaluations",
		},
		[]string{"mode", "outcome"}, // outcome: "triggered", "safe" or "unavailable"
	)

	atrCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoploss_atr_cache_lookups_total",
			Help: "Total number of ATR cache lookups",
		},
		[]string{"result"}, // "hit", "negative_hit", "miss" or "forced"
	)

	atrFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoploss_atr_fetch_total",
			Help: "Total number of ATR candle fetch cycles",
		},
		[]string{"result"}, // "success", "empty", "error" or "insufficient"
	)

	atrFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stoploss_atr_fetch_duration_seconds",
			Help:    "Duration of ATR candle fetch cycles in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)
)
