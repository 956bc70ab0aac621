package strategy

import (
	"fmt"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Scalping
// ════════════════════════════════════════════════════════════════════

const (
	scalpEMAFast = 5
	scalpEMASlow = 13
	// Scalps need participation: current volume must run at least this
	// multiple of its moving average.
	scalpMinVolumeRatio = 1.2
	scalpADXThreshold   = 20.0
)

// Scalping is trend following compressed to short lookbacks, gated on
// volume. It recomputes a 5/13 EMA pair from the bars regardless of the
// configured lookbacks, requires a fresh crossover, a modest ADX floor,
// and above-average volume on the signal bar.
type Scalping struct{}

var _ Strategy = Scalping{}

func (Scalping) Name() string { return "scalping" }

func (Scalping) Evaluate(set indicators.Set, bars []models.Bar) models.Decision {
	if !set.Close.OK || !set.ADX.OK || !set.VolumeRatio.OK {
		return models.Hold("insufficient data: adx/volume undefined")
	}
	if len(bars) < scalpEMASlow+1 {
		return models.Hold("insufficient data: short ema undefined")
	}

	data := make([]float64, len(bars))
	for i, b := range bars {
		data[i] = b.Close
	}
	fast := indicators.EMA(data, scalpEMAFast)
	slow := indicators.EMA(data, scalpEMASlow)
	n := len(data)
	// Both series are defined from index scalpEMASlow-1 onward; the length
	// check above guarantees n-2 is past that point.
	fastNow, fastPrev := fast[n-1], fast[n-2]
	slowNow, slowPrev := slow[n-1], slow[n-2]

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	if set.VolumeRatio.V < scalpMinVolumeRatio {
		if crossedUp || crossedDown {
			return models.Hold(fmt.Sprintf("crossover ignored: volume ratio %.2f below %.1f", set.VolumeRatio.V, scalpMinVolumeRatio))
		}
		return models.Hold("no entry conditions met")
	}
	if set.ADX.ADX < scalpADXThreshold {
		return models.Hold(fmt.Sprintf("no trend to scalp: ADX %.1f below %.0f", set.ADX.ADX, scalpADXThreshold))
	}

	confidence := scalpConfidence(set.ADX.ADX, set.VolumeRatio.V)

	var buy, sell models.Decision
	if crossedUp && set.Close.V > slowNow {
		buy = models.Decision{
			Signal:        models.SignalBuy,
			Confidence:    confidence,
			Reason:        fmt.Sprintf("short EMA crossed up on %.1fx volume", set.VolumeRatio.V),
			SuggestedStop: slowNow,
		}
	}
	if crossedDown && set.Close.V < slowNow {
		sell = models.Decision{
			Signal:        models.SignalSell,
			Confidence:    confidence,
			Reason:        fmt.Sprintf("short EMA crossed down on %.1fx volume", set.VolumeRatio.V),
			SuggestedStop: slowNow,
		}
	}
	return resolve(buy, sell)
}

// scalpConfidence blends trend strength and volume surge into [0.5, 0.9].
func scalpConfidence(adx, volRatio float64) float64 {
	score := 0.5 + (adx-scalpADXThreshold)/100.0 + (volRatio-scalpMinVolumeRatio)/10.0
	return clampf(score, 0.5, 0.9)
}
