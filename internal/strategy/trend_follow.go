package strategy

import (
	"fmt"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Trend Following
// ════════════════════════════════════════════════════════════════════

// Trend strength gate. ADX below this reads as a directionless market
// and no crossover is acted on.
const trendADXThreshold = 25.0

// TrendFollow trades EMA crossovers confirmed by trend strength. A buy
// requires the fast EMA to cross above the slow EMA on the latest bar,
// ADX at or above the trend threshold, and the close above the slow
// EMA. The sell setup is the mirror image. The slow EMA doubles as the
// suggested stop since a close through it invalidates the trend read.
type TrendFollow struct{}

var _ Strategy = TrendFollow{}

func (TrendFollow) Name() string { return "trend_follow" }

func (TrendFollow) Evaluate(set indicators.Set, bars []models.Bar) models.Decision {
	if !set.Close.OK || !set.EMAFast.OK || !set.EMASlow.OK ||
		!set.PrevEMAFast.OK || !set.PrevEMASlow.OK || !set.ADX.OK {
		return models.Hold("insufficient data: ema/adx undefined")
	}

	crossedUp := set.PrevEMAFast.V <= set.PrevEMASlow.V && set.EMAFast.V > set.EMASlow.V
	crossedDown := set.PrevEMAFast.V >= set.PrevEMASlow.V && set.EMAFast.V < set.EMASlow.V

	if set.ADX.ADX < trendADXThreshold {
		if crossedUp || crossedDown {
			return models.Hold(fmt.Sprintf("EMA crossover ignored: ADX %.1f below %.0f", set.ADX.ADX, trendADXThreshold))
		}
		return models.Hold("no entry conditions met")
	}

	confidence := trendConfidence(set.ADX.ADX)

	var buy, sell models.Decision
	if crossedUp && set.Close.V > set.EMASlow.V {
		buy = models.Decision{
			Signal:        models.SignalBuy,
			Confidence:    confidence,
			Reason:        fmt.Sprintf("fast EMA crossed above slow EMA with ADX %.1f", set.ADX.ADX),
			SuggestedStop: set.EMASlow.V,
		}
	}
	if crossedDown && set.Close.V < set.EMASlow.V {
		sell = models.Decision{
			Signal:        models.SignalSell,
			Confidence:    confidence,
			Reason:        fmt.Sprintf("fast EMA crossed below slow EMA with ADX %.1f", set.ADX.ADX),
			SuggestedStop: set.EMASlow.V,
		}
	}
	return resolve(buy, sell)
}

// trendConfidence maps ADX above the gate into [0.5, 0.95]. ADX 25 is a
// marginal trend, 50+ is established; the score saturates there.
func trendConfidence(adx float64) float64 {
	return clampf(0.5+(adx-trendADXThreshold)/50.0, 0.5, 0.95)
}
