// Package strategy turns indicator snapshots into trade decisions. Every
// strategy is a pure evaluation: no I/O, no stored state between calls.
// An indicator that is not yet defined always yields Hold.
package strategy

import (
	"sort"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

// Strategy evaluates one instrument's indicator snapshot into a Decision.
type Strategy interface {
	// Name is the stable identifier used in BotConfig.
	Name() string
	// Evaluate inspects the set and recent closed bars. Implementations
	// must return Hold when any input they rely on is undefined.
	Evaluate(set indicators.Set, bars []models.Bar) models.Decision
}

var registry = map[string]Strategy{
	"trend_follow": TrendFollow{},
	"mean_revert":  MeanRevert{},
	"momentum":     Momentum{},
	"scalping":     Scalping{},
}

// Get looks up a strategy by name.
func Get(name string) (Strategy, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names lists registered strategies, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// resolve applies the tie-break when both directions fire: the stronger
// side wins, equal confidence holds.
func resolve(buy, sell models.Decision) models.Decision {
	switch {
	case buy.Signal == models.SignalBuy && sell.Signal != models.SignalSell:
		return buy
	case sell.Signal == models.SignalSell && buy.Signal != models.SignalBuy:
		return sell
	case buy.Signal == models.SignalBuy && sell.Signal == models.SignalSell:
		if buy.Confidence > sell.Confidence {
			return buy
		}
		if sell.Confidence > buy.Confidence {
			return sell
		}
		return models.Hold("buy and sell conditions tied")
	default:
		return models.Hold("no entry conditions met")
	}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
