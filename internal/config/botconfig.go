package config

import (
	"encoding/json"
	"fmt"

	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// KnownStrategies enumerates the strategy names a BotConfig may reference.
// The strategy registry carries the implementations; this list is the
// validation source of truth.
var KnownStrategies = []string{"trend_follow", "mean_revert", "momentum", "scalping"}

// InstrumentRef names an instrument the bot trades.
type InstrumentRef struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol"`
}

// TradingHours is the daily window (IST, "HH:MM") inside which orders may
// be placed. Ticks outside the window are analysis-only.
type TradingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IndicatorParams overrides indicator lookbacks. Zero means default.
type IndicatorParams struct {
	EMAFast        int     `json:"ema_fast,omitempty"`
	EMASlow        int     `json:"ema_slow,omitempty"`
	RSIPeriod      int     `json:"rsi_period,omitempty"`
	MACDFast       int     `json:"macd_fast,omitempty"`
	MACDSlow       int     `json:"macd_slow,omitempty"`
	MACDSignal     int     `json:"macd_signal,omitempty"`
	ATRPeriod      int     `json:"atr_period,omitempty"`
	ADXPeriod      int     `json:"adx_period,omitempty"`
	BollingerN     int     `json:"bollinger_period,omitempty"`
	BollingerK     float64 `json:"bollinger_k,omitempty"`
	VolumeMAPeriod int     `json:"volume_ma_period,omitempty"`
}

// BotConfig is the persisted trading configuration the supervisor runs with.
type BotConfig struct {
	Broker              string           `json:"broker"`
	Instruments         []InstrumentRef  `json:"instruments"`
	Strategy            string           `json:"strategy"`
	Timeframe           models.Timeframe `json:"timeframe"`
	RiskPerTradePercent float64          `json:"risk_per_trade_percent"`
	RewardRatio         float64          `json:"reward_ratio"`
	ATRMultiplier       float64          `json:"atr_multiplier"`
	MaxPositions        int              `json:"max_positions"`
	MaxDailyLossPercent float64          `json:"max_daily_loss_percent"`
	PollIntervalSeconds int              `json:"poll_interval_seconds"`
	TradingHours        TradingHours     `json:"trading_hours"`
	PaperTrading        bool             `json:"paper_trading"`
	IndicatorParams     *IndicatorParams `json:"indicator_params,omitempty"`
}

// FieldError reports one validation failure, tagged with the offending key.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultBotConfig returns a safe paper-trading starting point.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Broker: "paper",
		Instruments: []InstrumentRef{
			{Exchange: models.ExchangeNSE, TradingSymbol: "RELIANCE"},
		},
		Strategy:            "trend_follow",
		Timeframe:           models.Timeframe5Min,
		RiskPerTradePercent: 1.0,
		RewardRatio:         2.0,
		ATRMultiplier:       1.5,
		MaxPositions:        3,
		MaxDailyLossPercent: 2.0,
		PollIntervalSeconds: 30,
		TradingHours:        TradingHours{Start: "09:15", End: "15:30"},
		PaperTrading:        true,
	}
}

// Validate checks every invariant the supervisor relies on. An empty slice
// means the config is runnable.
func (c *BotConfig) Validate() []FieldError {
	var errs []FieldError

	if c.Broker == "" {
		errs = append(errs, FieldError{"broker", "broker is required"})
	}
	if len(c.Instruments) == 0 {
		errs = append(errs, FieldError{"instruments", "at least one instrument is required"})
	}
	for i, inst := range c.Instruments {
		if inst.TradingSymbol == "" {
			errs = append(errs, FieldError{fmt.Sprintf("instruments[%d].trading_symbol", i), "trading_symbol is required"})
		}
		switch inst.Exchange {
		case models.ExchangeNSE, models.ExchangeBSE, models.ExchangeNFO:
		default:
			errs = append(errs, FieldError{fmt.Sprintf("instruments[%d].exchange", i),
				fmt.Sprintf("exchange %q is not one of NSE|BSE|NFO", inst.Exchange)})
		}
	}

	if !knownStrategy(c.Strategy) {
		errs = append(errs, FieldError{"strategy",
			fmt.Sprintf("strategy %q is not one of trend_follow|mean_revert|momentum|scalping", c.Strategy)})
	}
	if !c.Timeframe.Valid() {
		errs = append(errs, FieldError{"timeframe",
			fmt.Sprintf("timeframe %q is not one of 1m|3m|5m|15m|30m|1h|1d", c.Timeframe)})
	}

	if c.RiskPerTradePercent <= 0 || c.RiskPerTradePercent > 5 {
		errs = append(errs, FieldError{"risk_per_trade_percent", "must be in (0, 5]"})
	}
	if c.RewardRatio <= 0 {
		errs = append(errs, FieldError{"reward_ratio", "must be > 0"})
	}
	if c.ATRMultiplier <= 0 {
		errs = append(errs, FieldError{"atr_multiplier", "must be > 0"})
	}
	if c.MaxPositions < 1 {
		errs = append(errs, FieldError{"max_positions", "must be >= 1"})
	}
	if c.MaxDailyLossPercent <= 0 {
		errs = append(errs, FieldError{"max_daily_loss_percent", "must be > 0"})
	}
	if c.PollIntervalSeconds < 5 {
		errs = append(errs, FieldError{"poll_interval_seconds", "must be >= 5"})
	}

	if c.TradingHours.Start != "" || c.TradingHours.End != "" {
		if _, err := utils.ParseClockWindow(c.TradingHours.Start, c.TradingHours.End); err != nil {
			errs = append(errs, FieldError{"trading_hours", err.Error()})
		}
	}

	return errs
}

// EffectiveBroker returns the adapter name the supervisor should use.
// paper_trading forces the paper adapter regardless of the broker key.
func (c *BotConfig) EffectiveBroker() string {
	if c.PaperTrading {
		return "paper"
	}
	return c.Broker
}

// Window returns the parsed trading-hours window, defaulting to the full
// NSE session when unset.
func (c *BotConfig) Window() utils.ClockWindow {
	start, end := c.TradingHours.Start, c.TradingHours.End
	if start == "" || end == "" {
		start, end = "09:15", "15:30"
	}
	w, err := utils.ParseClockWindow(start, end)
	if err != nil {
		w, _ = utils.ParseClockWindow("09:15", "15:30")
	}
	return w
}

func knownStrategy(name string) bool {
	for _, s := range KnownStrategies {
		if s == name {
			return true
		}
	}
	return false
}

// botConfigKeys is the recognized key set; anything else in a posted config
// draws a warning but is otherwise ignored.
var botConfigKeys = map[string]bool{
	"broker": true, "instruments": true, "strategy": true, "timeframe": true,
	"risk_per_trade_percent": true, "reward_ratio": true, "atr_multiplier": true,
	"max_positions": true, "max_daily_loss_percent": true, "poll_interval_seconds": true,
	"trading_hours": true, "paper_trading": true, "indicator_params": true,
}

// UnknownKeys returns the top-level keys in raw JSON that no BotConfig field
// recognizes.
func UnknownKeys(raw []byte) []string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	var unknown []string
	for k := range m {
		if !botConfigKeys[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// Presets returns the named starting-point configs served by the control
// plane. Keys are preset names.
func Presets() map[string]BotConfig {
	conservative := DefaultBotConfig()
	conservative.RiskPerTradePercent = 0.5
	conservative.MaxPositions = 2
	conservative.MaxDailyLossPercent = 1.0
	conservative.Timeframe = models.Timeframe15Min

	balanced := DefaultBotConfig()

	aggressive := DefaultBotConfig()
	aggressive.Strategy = "momentum"
	aggressive.RiskPerTradePercent = 2.0
	aggressive.MaxPositions = 5
	aggressive.MaxDailyLossPercent = 4.0
	aggressive.Timeframe = models.Timeframe5Min
	aggressive.PollIntervalSeconds = 15

	return map[string]BotConfig{
		"conservative": conservative,
		"balanced":     balanced,
		"aggressive":   aggressive,
	}
}
