package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/tradekar/tradekar/internal/indicators"
	"github.com/tradekar/tradekar/pkg/models"
)

func TestRegistry(t *testing.T) {
	names := Names()
	want := []string{"mean_revert", "momentum", "scalping", "trend_follow"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}

	for _, n := range want {
		s, ok := Get(n)
		if !ok {
			t.Errorf("Get(%q) not found", n)
			continue
		}
		if s.Name() != n {
			t.Errorf("Get(%q).Name() = %q", n, s.Name())
		}
	}

	if _, ok := Get("martingale"); ok {
		t.Error("Get should not find an unregistered strategy")
	}
}

// ── Trend Follow ──

func trendSet(prevFast, prevSlow, fast, slow, close, adx float64) indicators.Set {
	return indicators.Set{
		Close:       indicators.Value{V: close, OK: true},
		PrevClose:   indicators.Value{V: close, OK: true},
		EMAFast:     indicators.Value{V: fast, OK: true},
		EMASlow:     indicators.Value{V: slow, OK: true},
		PrevEMAFast: indicators.Value{V: prevFast, OK: true},
		PrevEMASlow: indicators.Value{V: prevSlow, OK: true},
		ADX:         indicators.DXValue{ADX: adx, OK: true},
	}
}

func TestTrendFollowBuyOnCrossover(t *testing.T) {
	set := trendSet(99, 100, 102, 101, 103, 30)
	d := TrendFollow{}.Evaluate(set, nil)
	if d.Signal != models.SignalBuy {
		t.Fatalf("Signal = %s, want buy (reason: %s)", d.Signal, d.Reason)
	}
	if d.SuggestedStop != 101 {
		t.Errorf("SuggestedStop = %f, want slow EMA 101", d.SuggestedStop)
	}
	if d.Confidence < 0.5 || d.Confidence > 0.95 {
		t.Errorf("Confidence = %f outside [0.5, 0.95]", d.Confidence)
	}
}

func TestTrendFollowSellOnCrossover(t *testing.T) {
	set := trendSet(101, 100, 99, 100.5, 98, 30)
	d := TrendFollow{}.Evaluate(set, nil)
	if d.Signal != models.SignalSell {
		t.Fatalf("Signal = %s, want sell (reason: %s)", d.Signal, d.Reason)
	}
}

func TestTrendFollowWeakADXHolds(t *testing.T) {
	set := trendSet(99, 100, 102, 101, 103, 18)
	d := TrendFollow{}.Evaluate(set, nil)
	if d.Signal != models.SignalHold {
		t.Fatalf("Signal = %s, want hold", d.Signal)
	}
	if !strings.Contains(d.Reason, "ADX") {
		t.Errorf("Reason %q should name the ADX gate", d.Reason)
	}
}

func TestTrendFollowNoCrossoverHolds(t *testing.T) {
	// Fast already above slow on both bars: no fresh cross.
	set := trendSet(102, 100, 103, 101, 104, 30)
	d := TrendFollow{}.Evaluate(set, nil)
	if d.Signal != models.SignalHold {
		t.Errorf("Signal = %s, want hold without a fresh crossover", d.Signal)
	}
}

func TestTrendFollowUndefinedInputsHold(t *testing.T) {
	set := trendSet(99, 100, 102, 101, 103, 30)
	set.ADX.OK = false
	d := TrendFollow{}.Evaluate(set, nil)
	if d.Signal != models.SignalHold {
		t.Fatalf("Signal = %s, want hold on undefined ADX", d.Signal)
	}
	if !strings.Contains(d.Reason, "insufficient data") {
		t.Errorf("Reason %q should say insufficient data", d.Reason)
	}
}

// ── Mean Revert ──

func revertSet(close, lower, middle, upper, rsi, adx float64) indicators.Set {
	return indicators.Set{
		Close:     indicators.Value{V: close, OK: true},
		RSI:       indicators.Value{V: rsi, OK: true},
		ADX:       indicators.DXValue{ADX: adx, OK: true},
		Bollinger: indicators.BandValue{Upper: upper, Middle: middle, Lower: lower, OK: true},
	}
}

func TestMeanRevertBuyAtLowerBand(t *testing.T) {
	set := revertSet(95, 96, 100, 104, 25, 15)
	d := MeanRevert{}.Evaluate(set, nil)
	if d.Signal != models.SignalBuy {
		t.Fatalf("Signal = %s, want buy (reason: %s)", d.Signal, d.Reason)
	}
	if d.SuggestedTarget != 100 {
		t.Errorf("SuggestedTarget = %f, want band middle 100", d.SuggestedTarget)
	}
	if d.SuggestedStop >= 96 {
		t.Errorf("SuggestedStop = %f, want below the lower band", d.SuggestedStop)
	}
}

func TestMeanRevertSellAtUpperBand(t *testing.T) {
	set := revertSet(105, 96, 100, 104, 78, 15)
	d := MeanRevert{}.Evaluate(set, nil)
	if d.Signal != models.SignalSell {
		t.Fatalf("Signal = %s, want sell (reason: %s)", d.Signal, d.Reason)
	}
	if d.SuggestedTarget != 100 {
		t.Errorf("SuggestedTarget = %f, want band middle 100", d.SuggestedTarget)
	}
}

func TestMeanRevertTrendingMarketHolds(t *testing.T) {
	set := revertSet(95, 96, 100, 104, 25, 28)
	d := MeanRevert{}.Evaluate(set, nil)
	if d.Signal != models.SignalHold {
		t.Fatalf("Signal = %s, want hold in a trending market", d.Signal)
	}
	if !strings.Contains(d.Reason, "trending") {
		t.Errorf("Reason %q should name the trend gate", d.Reason)
	}
}

func TestMeanRevertMildRSIHolds(t *testing.T) {
	// At the band but RSI not extreme: no fade.
	set := revertSet(95, 96, 100, 104, 45, 15)
	d := MeanRevert{}.Evaluate(set, nil)
	if d.Signal != models.SignalHold {
		t.Errorf("Signal = %s, want hold without RSI confirmation", d.Signal)
	}
}

// ── Momentum ──

func momentumSet(prevHist, hist, rsi float64) indicators.Set {
	return indicators.Set{
		Close:    indicators.Value{V: 100, OK: true},
		RSI:      indicators.Value{V: rsi, OK: true},
		MACD:     indicators.MACDValue{Histogram: hist, OK: true},
		PrevMACD: indicators.MACDValue{Histogram: prevHist, OK: true},
	}
}

func TestMomentumBuyOnHistogramTurn(t *testing.T) {
	d := Momentum{}.Evaluate(momentumSet(-0.5, 0.8, 60), nil)
	if d.Signal != models.SignalBuy {
		t.Fatalf("Signal = %s, want buy (reason: %s)", d.Signal, d.Reason)
	}
}

func TestMomentumSellOnHistogramTurn(t *testing.T) {
	d := Momentum{}.Evaluate(momentumSet(0.5, -0.8, 40), nil)
	if d.Signal != models.SignalSell {
		t.Fatalf("Signal = %s, want sell (reason: %s)", d.Signal, d.Reason)
	}
}

func TestMomentumOverboughtBlocksBuy(t *testing.T) {
	d := Momentum{}.Evaluate(momentumSet(-0.5, 0.8, 75), nil)
	if d.Signal != models.SignalHold {
		t.Errorf("Signal = %s, want hold when RSI is overbought", d.Signal)
	}
}

func TestMomentumNoTurnHolds(t *testing.T) {
	d := Momentum{}.Evaluate(momentumSet(0.5, 0.8, 60), nil)
	if d.Signal != models.SignalHold {
		t.Errorf("Signal = %s, want hold without a histogram zero-crossing", d.Signal)
	}
}

// ── Scalping ──

// scalpBars builds a flat series then a breakout bar, forcing a fresh
// 5/13 EMA crossover on the final bar.
func scalpBars(n int, breakout float64) []models.Bar {
	t0 := time.Date(2026, 2, 18, 9, 15, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		c := 100.0
		if i == n-1 {
			c = breakout
		}
		bars[i] = models.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

func scalpSet(close, adx, volRatio float64) indicators.Set {
	return indicators.Set{
		Close:       indicators.Value{V: close, OK: true},
		ADX:         indicators.DXValue{ADX: adx, OK: true},
		VolumeRatio: indicators.Value{V: volRatio, OK: true},
	}
}

func TestScalpingBuyOnBreakout(t *testing.T) {
	bars := scalpBars(17, 110)
	d := Scalping{}.Evaluate(scalpSet(110, 25, 1.8), bars)
	if d.Signal != models.SignalBuy {
		t.Fatalf("Signal = %s, want buy (reason: %s)", d.Signal, d.Reason)
	}
	if d.SuggestedStop <= 100 || d.SuggestedStop >= 110 {
		t.Errorf("SuggestedStop = %f, want the short slow EMA between 100 and 110", d.SuggestedStop)
	}
}

func TestScalpingSellOnBreakdown(t *testing.T) {
	bars := scalpBars(17, 90)
	d := Scalping{}.Evaluate(scalpSet(90, 25, 1.8), bars)
	if d.Signal != models.SignalSell {
		t.Fatalf("Signal = %s, want sell (reason: %s)", d.Signal, d.Reason)
	}
}

func TestScalpingThinVolumeHolds(t *testing.T) {
	bars := scalpBars(17, 110)
	d := Scalping{}.Evaluate(scalpSet(110, 25, 0.9), bars)
	if d.Signal != models.SignalHold {
		t.Fatalf("Signal = %s, want hold on thin volume", d.Signal)
	}
	if !strings.Contains(d.Reason, "volume") {
		t.Errorf("Reason %q should name the volume gate", d.Reason)
	}
}

func TestScalpingShortSeriesHolds(t *testing.T) {
	bars := scalpBars(10, 110)
	d := Scalping{}.Evaluate(scalpSet(110, 25, 1.8), bars)
	if d.Signal != models.SignalHold {
		t.Errorf("Signal = %s, want hold on a short series", d.Signal)
	}
}

// ── Confidence bounds ──

func TestConfidenceClamps(t *testing.T) {
	if got := trendConfidence(1000); got != 0.95 {
		t.Errorf("trendConfidence(1000) = %f, want 0.95", got)
	}
	if got := trendConfidence(25); got != 0.5 {
		t.Errorf("trendConfidence(25) = %f, want 0.5", got)
	}
	if got := revertConfidence(1000); got != 0.9 {
		t.Errorf("revertConfidence(1000) = %f, want 0.9", got)
	}
	if got := momentumConfidence(1000); got != 0.85 {
		t.Errorf("momentumConfidence(1000) = %f, want 0.85", got)
	}
	if got := scalpConfidence(1000, 1000); got != 0.9 {
		t.Errorf("scalpConfidence(1000,1000) = %f, want 0.9", got)
	}
}
