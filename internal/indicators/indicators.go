// Package indicators implements pure technical indicator math over OHLCV
// bar series. Every function tolerates short input by returning nil (or a
// slice whose leading entries are zero); nothing here panics or performs
// I/O. Strategies read the assembled Set, which carries an ok flag per
// indicator so "not enough bars yet" is explicit.
package indicators

import (
	"math"

	"github.com/tradekar/tradekar/pkg/models"
)

// RSI calculates the Relative Strength Index with Wilder smoothing.
// Defined from index period onward; earlier entries are zero.
func RSI(bars []models.Bar, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < period+1 {
		return nil
	}

	rsi := make([]float64, n)
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		rsi[period] = 100
	} else {
		rs := avgGain / avgLoss
		rsi[period] = 100 - (100 / (1 + rs))
	}

	for i := period + 1; i < n; i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)

		if avgLoss == 0 {
			rsi[i] = 100
		} else {
			rs := avgGain / avgLoss
			rsi[i] = 100 - (100 / (1 + rs))
		}
	}
	return rsi
}

// MACDResult holds one MACD computation point.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD calculates moving average convergence divergence over closes.
// Meaningful from index slow+signal-2 onward.
func MACD(bars []models.Bar, fast, slow, signal int) []MACDResult {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}

	data := closes(bars)
	n := len(data)
	if n < slow+signal {
		return nil
	}

	fastEMA := EMA(data, fast)
	slowEMA := EMA(data, slow)

	macdLine := make([]float64, n)
	for i := slow - 1; i < n; i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	// The signal line smooths the defined part of the MACD line.
	signalLine := make([]float64, n)
	if sig := EMA(macdLine[slow-1:], signal); sig != nil {
		copy(signalLine[slow-1:], sig)
	}

	results := make([]MACDResult, n)
	for i := slow + signal - 2; i < n; i++ {
		results[i] = MACDResult{
			MACD:      macdLine[i],
			Signal:    signalLine[i],
			Histogram: macdLine[i] - signalLine[i],
		}
	}
	return results
}

// BollingerBand is one band triple.
type BollingerBand struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger calculates Bollinger bands: middle is SMA(period), upper and
// lower sit mult standard deviations away. Defined from index period-1.
func Bollinger(bars []models.Bar, period int, mult float64) []BollingerBand {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}

	data := closes(bars)
	n := len(data)
	if n < period {
		return nil
	}

	result := make([]BollingerBand, n)
	for i := period - 1; i < n; i++ {
		window := data[i-period+1 : i+1]
		mean := avg(window)
		sd := stddev(window, mean)
		result[i] = BollingerBand{
			Upper:  mean + mult*sd,
			Middle: mean,
			Lower:  mean - mult*sd,
		}
	}
	return result
}

// ATR calculates the Average True Range with Wilder smoothing. Defined
// from index period-1 onward.
func ATR(bars []models.Bar, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < period {
		return nil
	}

	tr := trueRanges(bars)
	atr := make([]float64, n)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		atr[i] = (atr[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return atr
}

// trueRanges computes the per-bar true range series.
func trueRanges(bars []models.Bar) []float64 {
	n := len(bars)
	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

// DirectionalIndex holds ADX with its directional components.
type DirectionalIndex struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX calculates the Average Directional Index with +DI and -DI, all
// Wilder-smoothed. DI values are defined from index period onward, ADX
// from index 2*period-1.
func ADX(bars []models.Bar, period int) []DirectionalIndex {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < 2*period {
		return nil
	}

	tr := trueRanges(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	// Wilder running sums over the first period, then smoothed.
	var trS, plusS, minusS float64
	for i := 1; i <= period; i++ {
		trS += tr[i]
		plusS += plusDM[i]
		minusS += minusDM[i]
	}

	result := make([]DirectionalIndex, n)
	dx := make([]float64, n)

	set := func(i int) {
		if trS > 0 {
			result[i].PlusDI = 100 * plusS / trS
			result[i].MinusDI = 100 * minusS / trS
		}
		if sum := result[i].PlusDI + result[i].MinusDI; sum > 0 {
			dx[i] = 100 * math.Abs(result[i].PlusDI-result[i].MinusDI) / sum
		}
	}
	set(period)

	for i := period + 1; i < n; i++ {
		trS = trS - trS/float64(period) + tr[i]
		plusS = plusS - plusS/float64(period) + plusDM[i]
		minusS = minusS - minusS/float64(period) + minusDM[i]
		set(i)
	}

	// ADX seeds with the average of the first period DX values.
	var dxSum float64
	for i := period; i < 2*period; i++ {
		dxSum += dx[i]
	}
	result[2*period-1].ADX = dxSum / float64(period)
	for i := 2 * period; i < n; i++ {
		result[i].ADX = (result[i-1].ADX*float64(period-1) + dx[i]) / float64(period)
	}
	return result
}

// --- helpers ---

func avg(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64, mean float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range data {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}
