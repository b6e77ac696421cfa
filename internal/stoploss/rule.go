package stoploss

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/stop-guard/internal/models"
)

// Defaults applied to every ATR rule. The "<n>ATR" setting only carries the period.
const (
	DefaultATRMultiplier = 2.0
	DefaultATRTimeframe  = "15m"
	DefaultATRCacheTTL   = 60 * time.Second
)

// Mode identifies which stop rule an evaluator runs
type Mode string

const (
	ModePercent Mode = "percent"
	ModeATR     Mode = "atr"
)

// Rule is a parsed stop-loss setting. The only implementations are PercentRule and ATRRule;
// consumers switch on the concrete type.
type Rule interface {
	Mode() Mode
	String() string
	isRule()
}

// PercentRule stops a position once its loss reaches Threshold percent
type PercentRule struct {
	Threshold float64 `json:"threshold"`
}

func (PercentRule) Mode() Mode { return ModePercent }
func (PercentRule) isRule()    {}

func (r PercentRule) String() string {
	return strconv.FormatFloat(r.Threshold, 'f', -1, 64) + "%"
}

// ATRRule stops a position once price moves Multiplier x ATR(Period) against the entry
type ATRRule struct {
	Period     int           `json:"period"`
	Multiplier float64       `json:"multiplier"`
	Timeframe  string        `json:"timeframe"`
	CacheTTL   time.Duration `json:"cache_ttl"`
}

func (ATRRule) Mode() Mode { return ModeATR }
func (ATRRule) isRule()    {}

func (r ATRRule) String() string {
	return fmt.Sprintf("%dATR x%.1f @%s", r.Period, r.Multiplier, r.Timeframe)
}

// CandleLimit is how many candles a fetch requests for this rule
func (r ATRRule) CandleLimit() int {
	return max(2*r.Period, r.Period+2)
}

// NewATRRule builds an ATR rule with the default multiplier, timeframe and cache TTL
func NewATRRule(period int) (ATRRule, error) {
	if period <= 0 {
		return ATRRule{}, fmt.Errorf("%w: ATR period must be greater than 0, got %d", models.ErrInvalidRule, period)
	}
	return ATRRule{
		Period:     period,
		Multiplier: DefaultATRMultiplier,
		Timeframe:  DefaultATRTimeframe,
		CacheTTL:   DefaultATRCacheTTL,
	}, nil
}

// ParseRule parses a stop-loss setting.
//
// Numbers and numeric strings become a PercentRule ("5", 5 and 5.0 are all 5%).
// Strings of the form "<digits>ATR" (case and whitespace insensitive, e.g. "14atr",
// "20 ATR") become an ATRRule. Anything else fails with models.ErrInvalidRule.
func ParseRule(setting any) (Rule, error) {
	switch v := setting.(type) {
	case float64:
		return percentRule(v, setting)
	case float32:
		return percentRule(float64(v), setting)
	case int:
		return percentRule(float64(v), setting)
	case int8:
		return percentRule(float64(v), setting)
	case int16:
		return percentRule(float64(v), setting)
	case int32:
		return percentRule(float64(v), setting)
	case int64:
		return percentRule(float64(v), setting)
	case uint:
		return percentRule(float64(v), setting)
	case uint8:
		return percentRule(float64(v), setting)
	case uint16:
		return percentRule(float64(v), setting)
	case uint32:
		return percentRule(float64(v), setting)
	case uint64:
		return percentRule(float64(v), setting)
	case json.Number:
		return parseRuleString(string(v))
	case string:
		return parseRuleString(v)
	default:
		return nil, fmt.Errorf("%w: unsupported setting %v (%T)", models.ErrInvalidRule, setting, setting)
	}
}

func parseRuleString(raw string) (Rule, error) {
	stripped := strings.TrimSpace(raw)

	if isHexNumber(stripped) {
		return nil, fmt.Errorf("%w: hexadecimal setting %q", models.ErrInvalidRule, raw)
	}
	if value, err := strconv.ParseFloat(stripped, 64); err == nil {
		return percentRule(value, raw)
	}

	normalized := strings.ToUpper(strings.Join(strings.Fields(stripped), ""))
	if !strings.HasSuffix(normalized, "ATR") {
		return nil, fmt.Errorf("%w: unsupported setting %q", models.ErrInvalidRule, raw)
	}

	periodPart := strings.TrimSuffix(normalized, "ATR")
	if !isDigits(periodPart) {
		return nil, fmt.Errorf("%w: cannot parse ATR period from %q", models.ErrInvalidRule, raw)
	}

	period, err := strconv.Atoi(periodPart)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse ATR period from %q", models.ErrInvalidRule, raw)
	}

	rule, err := NewATRRule(period)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func percentRule(threshold float64, setting any) (Rule, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold must be finite, got %v", models.ErrInvalidRule, setting)
	}
	return PercentRule{Threshold: threshold}, nil
}

// isHexNumber reports "0x"-prefixed input (optionally signed), which ParseFloat would
// otherwise accept as a hex float
func isHexNumber(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
