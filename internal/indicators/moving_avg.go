package indicators

import "github.com/tradekar/tradekar/pkg/models"

// SMA calculates the simple moving average over data. The first defined
// value sits at index period-1; earlier entries are zero.
func SMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	result := make([]float64, n)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		sum += data[i] - data[i-period]
		result[i] = sum / float64(period)
	}
	return result
}

// EMA calculates the exponential moving average with k = 2/(period+1),
// seeded with the simple average of the first period values.
func EMA(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}

	ema := make([]float64, n)
	k := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// VolumeMA is the simple moving average of bar volume.
func VolumeMA(bars []models.Bar, period int) []float64 {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = float64(b.Volume)
	}
	return SMA(vols, period)
}

// VWAP computes the running volume-weighted average price over the series.
// Conventionally reset per session; callers pass one session's bars.
func VWAP(bars []models.Bar) []float64 {
	n := len(bars)
	if n == 0 {
		return nil
	}

	result := make([]float64, n)
	var cumVolume, cumTPV float64
	for i, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3
		vol := float64(b.Volume)
		cumTPV += tp * vol
		cumVolume += vol
		if cumVolume > 0 {
			result[i] = cumTPV / cumVolume
		}
	}
	return result
}

// closes extracts the close series.
func closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
