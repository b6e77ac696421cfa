package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mohamedkhairy/stop-guard/internal/config"
	"github.com/mohamedkhairy/stop-guard/internal/models"
	"golang.org/x/time/rate"
)

// okxMaxCandles is the largest limit /api/v5/market/candles accepts
const okxMaxCandles = 300

// OKXSource fetches candles from the OKX public REST API
type OKXSource struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewOKXSource creates an OKX candle source
func NewOKXSource(cfg config.OKXConfig) *OKXSource {
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		limit = rate.Inf
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OKXSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (s *OKXSource) Name() string {
	return ProviderOKX
}

// Ping is a no-op: the public REST API needs no session and is checked per request
func (s *OKXSource) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *OKXSource) Close() error {
	s.http.CloseIdleConnections()
	return nil
}

type okxCandlesResp struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// FetchCandles implements CandleSource.
// Row layout: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm], newest first.
func (s *OKXSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := s.fetchCandles(ctx, symbol, timeframe, limit)
	recordRequest(ProviderOKX, len(candles), err)
	return candles, err
}

func (s *OKXSource) fetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	bar, err := okxBar(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > okxMaxCandles {
		limit = okxMaxCandles
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("okx rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		s.baseURL, url.QueryEscape(okxInstID(symbol)), url.QueryEscape(bar), limit,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx candles request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("okx candles read: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("okx candles http %d: %s", resp.StatusCode, string(b))
	}

	var r okxCandlesResp
	if err := sonic.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("okx candles decode: %w", err)
	}
	if r.Code != "0" {
		return nil, fmt.Errorf("okx candles error: code=%s msg=%s", r.Code, r.Msg)
	}

	out := make([]models.Candle, 0, len(r.Data))
	for i := len(r.Data) - 1; i >= 0; i-- {
		candle, ok := parseOKXRow(r.Data[i])
		if !ok {
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseOKXRow(row []string) (models.Candle, bool) {
	if len(row) < 5 {
		return models.Candle{}, false
	}

	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, false
	}

	var prices [4]float64
	for i := range prices {
		prices[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return models.Candle{}, false
		}
	}

	candle := models.Candle{
		Timestamp: time.UnixMilli(tsMs).UTC(),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
	}
	if len(row) >= 6 {
		candle.Volume, _ = strconv.ParseFloat(row[5], 64)
	}
	if candle.Validate() != nil {
		return models.Candle{}, false
	}
	return candle, true
}

// okxBar maps "15m", "1h", "1d" to OKX bar names ("15m", "1H", "1D")
func okxBar(timeframe string) (string, error) {
	if _, err := models.ParseTimeframe(timeframe); err != nil {
		return "", err
	}
	tf := strings.TrimSpace(timeframe)
	if strings.HasSuffix(tf, "m") {
		return tf, nil
	}
	return strings.ToUpper(tf), nil
}

// okxInstID converts unified "BTC/USDT" style ids to OKX "BTC-USDT"
func okxInstID(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}
