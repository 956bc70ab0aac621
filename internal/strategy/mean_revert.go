package strategy

import (
	"fmt"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Mean Reversion
// ════════════════════════════════════════════════════════════════════

const (
	revertOversold   = 30.0
	revertOverbought = 70.0
	// ADX at or above this reads as a trending market, where fading a
	// band touch is a losing proposition.
	revertRangingADX = 20.0
)

// MeanRevert fades Bollinger band touches inside a ranging market. A buy
// requires the close at or below the lower band, RSI oversold, and ADX
// under the ranging threshold; the sell is symmetric at the upper band.
// The band midline is the natural target of the reversion, and the touched
// band backs the suggested stop.
type MeanRevert struct{}

var _ Strategy = MeanRevert{}

func (MeanRevert) Name() string { return "mean_revert" }

func (MeanRevert) Evaluate(set indicators.Set, bars []models.Bar) models.Decision {
	if !set.Close.OK || !set.Bollinger.OK || !set.RSI.OK || !set.ADX.OK {
		return models.Hold("insufficient data: bollinger/rsi/adx undefined")
	}

	if set.ADX.ADX >= revertRangingADX {
		return models.Hold(fmt.Sprintf("market trending: ADX %.1f at or above %.0f", set.ADX.ADX, revertRangingADX))
	}

	close := set.Close.V
	band := set.Bollinger
	width := band.Upper - band.Lower

	var buy, sell models.Decision
	if close <= band.Lower && set.RSI.V < revertOversold {
		buy = models.Decision{
			Signal:          models.SignalBuy,
			Confidence:      revertConfidence(revertOversold - set.RSI.V),
			Reason:          fmt.Sprintf("close at lower band with RSI %.1f oversold", set.RSI.V),
			SuggestedStop:   band.Lower - width*0.25,
			SuggestedTarget: band.Middle,
		}
	}
	if close >= band.Upper && set.RSI.V > revertOverbought {
		sell = models.Decision{
			Signal:          models.SignalSell,
			Confidence:      revertConfidence(set.RSI.V - revertOverbought),
			Reason:          fmt.Sprintf("close at upper band with RSI %.1f overbought", set.RSI.V),
			SuggestedStop:   band.Upper + width*0.25,
			SuggestedTarget: band.Middle,
		}
	}
	return resolve(buy, sell)
}

// revertConfidence maps RSI excursion past its threshold into [0.5, 0.9].
// A reading 20 points through the threshold saturates the score.
func revertConfidence(excursion float64) float64 {
	return clampf(0.5+excursion/50.0, 0.5, 0.9)
}
