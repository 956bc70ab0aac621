package indicators

import "github.com/tradekar/tradekar/pkg/models"

// ════════════════════════════════════════════════════════════════════
// Indicator Set
// ════════════════════════════════════════════════════════════════════

// Params holds the lookbacks used to build a Set. Zero fields fall back
// to the conventional defaults.
type Params struct {
	EMAFast        int
	EMASlow        int
	RSIPeriod      int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	ATRPeriod      int
	ADXPeriod      int
	BollingerN     int
	BollingerK     float64
	VolumeMAPeriod int
}

// DefaultParams returns the conventional lookbacks.
func DefaultParams() Params {
	return Params{
		EMAFast:        9,
		EMASlow:        21,
		RSIPeriod:      14,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		ATRPeriod:      14,
		ADXPeriod:      14,
		BollingerN:     20,
		BollingerK:     2.0,
		VolumeMAPeriod: 20,
	}
}

// normalize fills zero fields with defaults.
func (p Params) normalize() Params {
	d := DefaultParams()
	if p.EMAFast <= 0 {
		p.EMAFast = d.EMAFast
	}
	if p.EMASlow <= 0 {
		p.EMASlow = d.EMASlow
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = d.RSIPeriod
	}
	if p.MACDFast <= 0 {
		p.MACDFast = d.MACDFast
	}
	if p.MACDSlow <= 0 {
		p.MACDSlow = d.MACDSlow
	}
	if p.MACDSignal <= 0 {
		p.MACDSignal = d.MACDSignal
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = d.ATRPeriod
	}
	if p.ADXPeriod <= 0 {
		p.ADXPeriod = d.ADXPeriod
	}
	if p.BollingerN <= 0 {
		p.BollingerN = d.BollingerN
	}
	if p.BollingerK <= 0 {
		p.BollingerK = d.BollingerK
	}
	if p.VolumeMAPeriod <= 0 {
		p.VolumeMAPeriod = d.VolumeMAPeriod
	}
	return p
}

// WarmupBars is the bar count needed before every indicator in the Set is
// defined. The supervisor seeds history to at least this depth.
func (p Params) WarmupBars() int {
	p = p.normalize()
	warmup := p.EMASlow + 1
	if n := p.RSIPeriod + 1; n > warmup {
		warmup = n
	}
	if n := p.MACDSlow + p.MACDSignal; n > warmup {
		warmup = n
	}
	if n := 2 * p.ADXPeriod; n > warmup {
		warmup = n
	}
	if n := p.BollingerN; n > warmup {
		warmup = n
	}
	if n := p.VolumeMAPeriod; n > warmup {
		warmup = n
	}
	return warmup
}

// Value is a float indicator reading. OK false means the series was too
// short to define it; strategies treat that as Hold.
type Value struct {
	V  float64
	OK bool
}

// MACDValue is one MACD reading.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
	OK        bool
}

// BandValue is one Bollinger reading.
type BandValue struct {
	Upper  float64
	Middle float64
	Lower  float64
	OK     bool
}

// DXValue is one directional-index reading.
type DXValue struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
	OK      bool
}

// Set is the computed indicator snapshot one strategy evaluation consumes.
// Prev* fields expose the previous bar's reading for crossover detection.
type Set struct {
	Close       Value
	PrevClose   Value
	EMAFast     Value
	EMASlow     Value
	PrevEMAFast Value
	PrevEMASlow Value
	RSI         Value
	PrevRSI     Value
	MACD        MACDValue
	PrevMACD    MACDValue
	ATR         Value
	ADX         DXValue
	Bollinger   BandValue
	VolumeMA    Value
	VolumeRatio Value
}

// Compute evaluates every indicator over bars. Bars must be closed
// candles in ascending time order; callers drop a trailing partial bar
// before calling.
func Compute(bars []models.Bar, p Params) Set {
	p = p.normalize()
	var s Set

	n := len(bars)
	if n == 0 {
		return s
	}

	data := closes(bars)
	s.Close = Value{data[n-1], true}
	if n >= 2 {
		s.PrevClose = Value{data[n-2], true}
	}

	s.EMAFast, s.PrevEMAFast = lastTwo(EMA(data, p.EMAFast), p.EMAFast-1)
	s.EMASlow, s.PrevEMASlow = lastTwo(EMA(data, p.EMASlow), p.EMASlow-1)
	s.RSI, s.PrevRSI = lastTwo(RSI(bars, p.RSIPeriod), p.RSIPeriod)
	s.ATR, _ = lastTwo(ATR(bars, p.ATRPeriod), p.ATRPeriod-1)

	if m := MACD(bars, p.MACDFast, p.MACDSlow, p.MACDSignal); m != nil {
		last := m[len(m)-1]
		s.MACD = MACDValue{last.MACD, last.Signal, last.Histogram, true}
		if defined := p.MACDSlow + p.MACDSignal - 2; len(m)-2 >= defined {
			prev := m[len(m)-2]
			s.PrevMACD = MACDValue{prev.MACD, prev.Signal, prev.Histogram, true}
		}
	}

	if dx := ADX(bars, p.ADXPeriod); dx != nil {
		last := dx[len(dx)-1]
		s.ADX = DXValue{last.ADX, last.PlusDI, last.MinusDI, true}
	}

	if bb := Bollinger(bars, p.BollingerN, p.BollingerK); bb != nil {
		last := bb[len(bb)-1]
		s.Bollinger = BandValue{last.Upper, last.Middle, last.Lower, true}
	}

	if vma := VolumeMA(bars, p.VolumeMAPeriod); vma != nil {
		last := vma[len(vma)-1]
		s.VolumeMA = Value{last, true}
		if last > 0 {
			s.VolumeRatio = Value{float64(bars[n-1].Volume) / last, true}
		}
	}

	return s
}

// lastTwo extracts the final and previous readings of a series whose
// values are defined from definedFrom onward.
func lastTwo(series []float64, definedFrom int) (last, prev Value) {
	n := len(series)
	if n == 0 {
		return
	}
	if n-1 >= definedFrom {
		last = Value{series[n-1], true}
	}
	if n-2 >= definedFrom && n >= 2 {
		prev = Value{series[n-2], true}
	}
	return
}
