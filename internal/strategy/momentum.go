package strategy

import (
	"fmt"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Momentum
// ════════════════════════════════════════════════════════════════════

const (
	momentumOverbought = 70.0
	momentumOversold   = 30.0
)

// Momentum trades MACD histogram zero-crossings confirmed by RSI. A buy
// fires when the histogram turns positive with RSI between the midline
// and overbought, so there is momentum behind the turn but room left to
// run. The sell is the mirror: histogram turns negative with RSI between
// oversold and the midline.
type Momentum struct{}

var _ Strategy = Momentum{}

func (Momentum) Name() string { return "momentum" }

func (Momentum) Evaluate(set indicators.Set, bars []models.Bar) models.Decision {
	if !set.MACD.OK || !set.PrevMACD.OK || !set.RSI.OK {
		return models.Hold("insufficient data: macd/rsi undefined")
	}

	turnedPositive := set.PrevMACD.Histogram <= 0 && set.MACD.Histogram > 0
	turnedNegative := set.PrevMACD.Histogram >= 0 && set.MACD.Histogram < 0

	var buy, sell models.Decision
	if turnedPositive && set.RSI.V > 50 && set.RSI.V < momentumOverbought {
		buy = models.Decision{
			Signal:     models.SignalBuy,
			Confidence: momentumConfidence(set.RSI.V - 50),
			Reason:     fmt.Sprintf("MACD histogram turned positive with RSI %.1f", set.RSI.V),
		}
	}
	if turnedNegative && set.RSI.V < 50 && set.RSI.V > momentumOversold {
		sell = models.Decision{
			Signal:     models.SignalSell,
			Confidence: momentumConfidence(50 - set.RSI.V),
			Reason:     fmt.Sprintf("MACD histogram turned negative with RSI %.1f", set.RSI.V),
		}
	}
	return resolve(buy, sell)
}

// momentumConfidence maps RSI distance from the midline into [0.5, 0.85].
// The usable band is 20 points wide, so the score saturates near its edge.
func momentumConfidence(fromMidline float64) float64 {
	return clampf(0.5+fromMidline/60.0, 0.5, 0.85)
}
