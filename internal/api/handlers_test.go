package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/marketdata"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"github.com/mohamedkhairy/stop-guard/internal/stoploss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func flatCandles(n int, price, halfRange float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price + halfRange,
			Low:       price - halfRange,
			Close:     price,
		}
	}
	return out
}

func newATRRouter(t *testing.T) (http.Handler, *marketdata.MockSource) {
	t.Helper()

	source := marketdata.NewMockSource(false)
	source.SetCandles("BTC-USDT", flatCandles(30, 100, 0.5))

	evaluator, err := stoploss.NewEvaluator(source, "14ATR", stoploss.WithCacheLogger(zap.NewNop()))
	require.NoError(t, err)

	return NewRouter(NewGuardHandler(evaluator), NewHealthHandler(nil)), source
}

func newPercentRouter(t *testing.T) http.Handler {
	t.Helper()

	evaluator, err := stoploss.NewEvaluator(nil, 5)
	require.NoError(t, err)

	return NewRouter(NewGuardHandler(evaluator), NewHealthHandler(nil))
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestGuardHandler_EvaluatePercent(t *testing.T) {
	router := newPercentRouter(t)

	w := postJSON(t, router, "/api/v1/evaluate", EvaluateRequest{
		Symbol: "BTC-USDT", EntryPrice: 100, CurrentPrice: 94, Side: "long", ProfitPct: -6,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp EvaluateResponse
	decodeBody(t, w, &resp)
	assert.True(t, resp.Assessed)
	assert.True(t, resp.Triggered)
	require.NotNil(t, resp.Context)
	assert.Equal(t, stoploss.ModePercent, resp.Context.Mode)
	require.NotNil(t, resp.Context.Percent)
	assert.InDelta(t, -1.0, resp.Context.Percent.DistancePct, 1e-9)
}

func TestGuardHandler_EvaluateATR(t *testing.T) {
	router, _ := newATRRouter(t)

	w := postJSON(t, router, "/api/v1/evaluate", EvaluateRequest{
		Symbol: "BTC-USDT", EntryPrice: 100, CurrentPrice: 99, Side: "LONG",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp EvaluateResponse
	decodeBody(t, w, &resp)
	assert.True(t, resp.Assessed)
	assert.False(t, resp.Triggered)
	require.NotNil(t, resp.Context)
	require.NotNil(t, resp.Context.ATR)
	assert.Equal(t, 98.0, resp.Context.ATR.StopPrice)
	assert.Equal(t, 1.0, resp.Context.ATR.DistanceToStop)
}

func TestGuardHandler_EvaluateUnassessed(t *testing.T) {
	router, _ := newATRRouter(t)

	w := postJSON(t, router, "/api/v1/evaluate", EvaluateRequest{
		Symbol: "UNKNOWN-USDT", EntryPrice: 100, CurrentPrice: 1, Side: "long",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]interface{}
	decodeBody(t, w, &raw)
	assert.Equal(t, false, raw["assessed"])
	assert.Equal(t, false, raw["triggered"])
	assert.Contains(t, raw, "context")
	assert.Nil(t, raw["context"])
}

func TestGuardHandler_EvaluateBadRequest(t *testing.T) {
	router := newPercentRouter(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"bad side", EvaluateRequest{Symbol: "BTC-USDT", EntryPrice: 100, CurrentPrice: 100, Side: "flat"}},
		{"missing symbol", EvaluateRequest{EntryPrice: 100, CurrentPrice: 100, Side: "long"}},
		{"non-positive price", EvaluateRequest{Symbol: "BTC-USDT", EntryPrice: 0, CurrentPrice: 100, Side: "short"}},
		{"not an object", []int{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, router, "/api/v1/evaluate", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp map[string]interface{}
			decodeBody(t, w, &resp)
			assert.NotEmpty(t, resp["error"])
			assert.EqualValues(t, http.StatusBadRequest, resp["code"])
		})
	}
}

func TestGuardHandler_Refresh(t *testing.T) {
	router, source := newATRRouter(t)

	w := postJSON(t, router, "/api/v1/refresh", RefreshRequest{
		Symbols: []string{"BTC-USDT", "ETH-USDT", "ETH-USDT"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Mode      stoploss.Mode                  `json:"mode"`
		Refreshed map[string]stoploss.ATRMetrics `json:"refreshed"`
		Failed    []string                       `json:"failed"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, stoploss.ModeATR, resp.Mode)
	require.Contains(t, resp.Refreshed, "BTC-USDT")
	assert.Equal(t, 2.0, resp.Refreshed["BTC-USDT"].Distance)
	assert.Equal(t, []string{"ETH-USDT"}, resp.Failed)
	assert.Equal(t, 1, source.CallCount("ETH-USDT"))
}

func TestGuardHandler_RefreshPercentIsNoop(t *testing.T) {
	router := newPercentRouter(t)

	w := postJSON(t, router, "/api/v1/refresh", RefreshRequest{Symbols: []string{"BTC-USDT"}})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	assert.Equal(t, "percent", resp["mode"])
	assert.Empty(t, resp["refreshed"])
	assert.Empty(t, resp["failed"])
}

func TestGuardHandler_RefreshRequiresSymbols(t *testing.T) {
	router := newPercentRouter(t)

	w := postJSON(t, router, "/api/v1/refresh", RefreshRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuardHandler_GetRule(t *testing.T) {
	tests := []struct {
		name   string
		router http.Handler
		check  func(t *testing.T, resp RuleResponse)
	}{
		{
			name:   "percent",
			router: newPercentRouter(t),
			check: func(t *testing.T, resp RuleResponse) {
				assert.Equal(t, stoploss.ModePercent, resp.Mode)
				assert.Equal(t, "5%", resp.Rule)
				require.NotNil(t, resp.Threshold)
				assert.Equal(t, 5.0, *resp.Threshold)
			},
		},
		{
			name: "atr",
			router: func() http.Handler {
				router, _ := newATRRouter(t)
				return router
			}(),
			check: func(t *testing.T, resp RuleResponse) {
				assert.Equal(t, stoploss.ModeATR, resp.Mode)
				assert.Equal(t, "14ATR x2.0 @15m", resp.Rule)
				assert.Nil(t, resp.Threshold)
				assert.Equal(t, 14, resp.Period)
				assert.Equal(t, 2.0, resp.Multiplier)
				assert.Equal(t, "15m", resp.Timeframe)
				assert.Equal(t, 60.0, resp.CacheTTLSec)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rule", nil)
			w := httptest.NewRecorder()
			tt.router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)

			var resp RuleResponse
			decodeBody(t, w, &resp)
			tt.check(t, resp)
		})
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newPercentRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/evaluate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthHandler(t *testing.T) {
	readyErr := errors.New("database unreachable")
	var failing bool
	health := NewHealthHandler(func(ctx context.Context) error {
		if failing {
			return readyErr
		}
		return nil
	})

	evaluator, err := stoploss.NewEvaluator(nil, 5)
	require.NoError(t, err)
	router := NewRouter(NewGuardHandler(evaluator), health)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/live").Code)
	assert.Equal(t, http.StatusOK, get("/ready").Code)
	assert.Equal(t, http.StatusOK, get("/metrics").Code)

	failing = true
	w := get("/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]string
	decodeBody(t, w, &resp)
	assert.Equal(t, "not ready", resp["status"])
}
