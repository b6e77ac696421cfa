package stoploss

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/mohamedkhairy/stop-guard/internal/models"
)

// PercentContext explains a percent-mode verdict
type PercentContext struct {
	Threshold   float64 `json:"threshold"`
	DistancePct float64 `json:"distance_pct"` // profit_pct + threshold; <= 0 means triggered
}

// ATRContext explains an ATR-mode verdict
type ATRContext struct {
	Period         int     `json:"period"`
	Multiplier     float64 `json:"multiplier"`
	Timeframe      string  `json:"timeframe"`
	StopPrice      float64 `json:"stop_price"`
	ATR            float64 `json:"atr"`
	Distance       float64 `json:"distance"`
	DistanceToStop float64 `json:"distance_to_stop"` // Positive while price is on the safe side
}

// EvaluationContext is the verdict for one position. Exactly one of Percent and ATR is
// set, matching Mode.
type EvaluationContext struct {
	Mode      Mode            `json:"mode"`
	Triggered bool            `json:"triggered"`
	Percent   *PercentContext `json:"percent,omitempty"`
	ATR       *ATRContext     `json:"atr,omitempty"`
}

// Evaluator decides whether an open position has hit its stop
type Evaluator struct {
	rule  Rule
	cache *ATRCache // nil in percent mode
}

// NewEvaluator parses setting (see ParseRule) and binds it to a new evaluator.
// source is only used by ATR rules and may be nil for percent rules.
func NewEvaluator(source marketdata.CandleSource, setting any, opts ...CacheOption) (*Evaluator, error) {
	rule, err := ParseRule(setting)
	if err != nil {
		return nil, err
	}

	e := &Evaluator{rule: rule}
	if atrRule, ok := rule.(ATRRule); ok {
		if source == nil {
			return nil, fmt.Errorf("ATR stop rule %s requires a market data source", atrRule)
		}
		e.cache = NewATRCache(source, atrRule, opts...)
	}

	return e, nil
}

// Rule returns the rule bound at construction
func (e *Evaluator) Rule() Rule {
	return e.rule
}

// Evaluate returns the stop verdict for pos. In ATR mode it returns nil when no candle
// data is available; nil means the risk cannot be assessed, not that the stop is safe.
func (e *Evaluator) Evaluate(ctx context.Context, pos models.Position) *EvaluationContext {
	var result *EvaluationContext

	switch rule := e.rule.(type) {
	case PercentRule:
		result = evaluatePercent(rule, pos)
	case ATRRule:
		metrics, ok := e.cache.Get(ctx, pos.Symbol, false)
		if ok {
			result = evaluateATR(rule, metrics, pos)
		}
	default:
		panic(fmt.Sprintf("stoploss: unhandled rule type %T", rule))
	}

	evaluationsTotal.WithLabelValues(string(e.rule.Mode()), outcome(result)).Inc()
	return result
}

// ShouldStop reports whether pos has hit its stop along with the verdict.
// A missing verdict collapses to (false, nil); use Evaluate to tell the cases apart.
func (e *Evaluator) ShouldStop(ctx context.Context, pos models.Position) (bool, *EvaluationContext) {
	result := e.Evaluate(ctx, pos)
	if result == nil {
		return false, nil
	}
	return result.Triggered, result
}

// Refresh force-refetches ATR metrics for symbols. It does nothing in percent mode.
func (e *Evaluator) Refresh(ctx context.Context, symbols []string) map[string]ATRMetrics {
	if e.cache == nil {
		return map[string]ATRMetrics{}
	}
	return e.cache.Refresh(ctx, symbols)
}

func evaluatePercent(rule PercentRule, pos models.Position) *EvaluationContext {
	return &EvaluationContext{
		Mode:      ModePercent,
		Triggered: pos.ProfitPct <= -rule.Threshold,
		Percent: &PercentContext{
			Threshold:   rule.Threshold,
			DistancePct: pos.ProfitPct + rule.Threshold,
		},
	}
}

func evaluateATR(rule ATRRule, metrics ATRMetrics, pos models.Position) *EvaluationContext {
	var stopPrice, gap float64
	if pos.Side == models.SideLong {
		stopPrice = pos.EntryPrice - metrics.Distance
		gap = pos.CurrentPrice - stopPrice
	} else {
		stopPrice = pos.EntryPrice + metrics.Distance
		gap = stopPrice - pos.CurrentPrice
	}

	return &EvaluationContext{
		Mode:      ModeATR,
		Triggered: gap <= 0,
		ATR: &ATRContext{
			Period:         rule.Period,
			Multiplier:     rule.Multiplier,
			Timeframe:      rule.Timeframe,
			StopPrice:      stopPrice,
			ATR:            metrics.ATR,
			Distance:       metrics.Distance,
			DistanceToStop: gap,
		},
	}
}

func outcome(result *EvaluationContext) string {
	switch {
	case result == nil:
		return "unavailable"
	case result.Triggered:
		return "triggered"
	default:
		return "safe"
	}
}
