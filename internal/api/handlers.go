package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/internal/stoploss"
	"github.com/mohamedkhairy/stop-guard/pkg/logger"
)

// maxRefreshSymbols caps one refresh request
const maxRefreshSymbols = 200

// Guard is the stop evaluator surface the API serves
type Guard interface {
	Rule() stoploss.Rule
	Evaluate(ctx context.Context, pos models.Position) *stoploss.EvaluationContext
	Refresh(ctx context.Context, symbols []string) map[string]stoploss.ATRMetrics
}

// GuardHandler serves stop evaluation endpoints
type GuardHandler struct {
	guard Guard
}

// NewGuardHandler creates a new guard handler
func NewGuardHandler(guard Guard) *GuardHandler {
	return &GuardHandler{guard: guard}
}

// EvaluateRequest is the body of POST /api/v1/evaluate
type EvaluateRequest struct {
	Symbol       string  `json:"symbol"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	Side         string  `json:"side"`
	ProfitPct    float64 `json:"profit_pct"`
}

// EvaluateResponse carries the verdict. Assessed is false when no verdict could be formed,
// which must not be read as "safe".
type EvaluateResponse struct {
	Assessed  bool                        `json:"assessed"`
	Triggered bool                        `json:"triggered"`
	Context   *stoploss.EvaluationContext `json:"context"`
}

// RefreshRequest is the body of POST /api/v1/refresh
type RefreshRequest struct {
	Symbols []string `json:"symbols"`
}

// RuleResponse describes the active stop rule
type RuleResponse struct {
	Mode        stoploss.Mode `json:"mode"`
	Rule        string        `json:"rule"`
	Threshold   *float64      `json:"threshold,omitempty"`
	Period      int           `json:"period,omitempty"`
	Multiplier  float64       `json:"multiplier,omitempty"`
	Timeframe   string        `json:"timeframe,omitempty"`
	CacheTTLSec float64       `json:"cache_ttl_seconds,omitempty"`
}

// Evaluate handles POST /api/v1/evaluate
func (h *GuardHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side, err := models.ParseSide(req.Side)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos := models.Position{
		Symbol:       req.Symbol,
		EntryPrice:   req.EntryPrice,
		CurrentPrice: req.CurrentPrice,
		Side:         side,
		ProfitPct:    req.ProfitPct,
	}
	if err := pos.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.guard.Evaluate(r.Context(), pos)
	if result == nil {
		respondWithJSON(w, http.StatusOK, EvaluateResponse{})
		return
	}

	if result.Triggered {
		logger.Info("Stop triggered",
			logger.String("request_id", RequestIDFromContext(r.Context())),
			logger.String("symbol", pos.Symbol),
			logger.String("side", string(pos.Side)),
			logger.String("mode", string(result.Mode)),
		)
	}

	respondWithJSON(w, http.StatusOK, EvaluateResponse{
		Assessed:  true,
		Triggered: result.Triggered,
		Context:   result,
	})
}

// Refresh handles POST /api/v1/refresh
func (h *GuardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Symbols) == 0 {
		respondWithError(w, http.StatusBadRequest, models.ErrInvalidSymbol.Error())
		return
	}
	if len(req.Symbols) > maxRefreshSymbols {
		respondWithError(w, http.StatusBadRequest, "Too many symbols")
		return
	}

	refreshed := h.guard.Refresh(r.Context(), req.Symbols)

	failed := make([]string, 0)
	seen := make(map[string]bool, len(req.Symbols))
	if h.guard.Rule().Mode() == stoploss.ModeATR {
		for _, symbol := range req.Symbols {
			if seen[symbol] {
				continue
			}
			seen[symbol] = true
			if _, ok := refreshed[symbol]; !ok {
				failed = append(failed, symbol)
			}
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"mode":      h.guard.Rule().Mode(),
		"refreshed": refreshed,
		"failed":    failed,
	})
}

// GetRule handles GET /api/v1/rule
func (h *GuardHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, describeRule(h.guard.Rule()))
}

func describeRule(rule stoploss.Rule) RuleResponse {
	resp := RuleResponse{Mode: rule.Mode(), Rule: rule.String()}

	switch rule := rule.(type) {
	case stoploss.PercentRule:
		threshold := rule.Threshold
		resp.Threshold = &threshold
	case stoploss.ATRRule:
		resp.Period = rule.Period
		resp.Multiplier = rule.Multiplier
		resp.Timeframe = rule.Timeframe
		resp.CacheTTLSec = rule.CacheTTL.Seconds()
	}

	return resp
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	ready   func(ctx context.Context) error
	timeout time.Duration
}

// NewHealthHandler creates a health handler. ready may be nil when there is nothing to check.
func NewHealthHandler(ready func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ready: ready, timeout: 2 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		if err := h.ready(ctx); err != nil {
			status := "not ready"
			if errors.Is(err, context.DeadlineExceeded) {
				status = "not ready (timeout)"
			}
			logger.Warn("Readiness check failed", logger.ErrorField(err))
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": status})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}
