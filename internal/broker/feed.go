package broker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Synthetic Quote Feed
// ════════════════════════════════════════════════════════════════════

// Feed produces a reproducible pseudo-random price walk per instrument.
// Each one-second step is seeded by (instrument_token, epoch_second), so
// two runs over the same wall-clock window see identical prices. The walk
// anchors at a per-instrument base price at the start of each IST day.
type Feed struct {
	mu    sync.Mutex
	state map[int64]*walkState
}

type walkState struct {
	dayAnchor int64 // unix second of the IST day start the walk grew from
	sec       int64 // last second the walk advanced to
	price     float64
}

// NewFeed creates an empty feed. Instruments start walking on first use.
func NewFeed() *Feed {
	return &Feed{state: make(map[int64]*walkState)}
}

// basePrice derives a stable per-instrument anchor in the ₹50 to ₹1000
// band from the instrument token.
func basePrice(token int64) float64 {
	if token < 0 {
		token = -token
	}
	return 50 + float64(token%95000)/100
}

// stepPrice advances one second of the walk. The step is a bounded
// fraction of the current price drawn from a source seeded by the
// (token, second) pair, which is what makes replays identical.
func stepPrice(token, sec int64, price, tick float64) float64 {
	rng := rand.New(rand.NewSource(token*1000003 ^ sec))
	step := price * 0.0004 * (rng.Float64()*2 - 1)
	next := price + step
	if next < tick {
		next = tick
	}
	return next
}

// tickFor returns the instrument tick size with the NSE default.
func tickFor(inst models.Instrument) float64 {
	if inst.TickSize > 0 {
		return inst.TickSize
	}
	return 0.05
}

// priceAt advances the instrument's walk to sec and returns the last
// traded price. Must hold mu.
func (f *Feed) priceAt(inst models.Instrument, sec int64) float64 {
	token := inst.InstrumentToken
	tick := tickFor(inst)
	anchor := istDayStart(sec)

	st, ok := f.state[token]
	if !ok || st.dayAnchor != anchor || sec < st.sec {
		st = &walkState{dayAnchor: anchor, sec: anchor, price: basePrice(token)}
		f.state[token] = st
	}
	for st.sec < sec {
		st.sec++
		st.price = stepPrice(token, st.sec, st.price, tick)
	}
	return st.price
}

// istDayStart returns the unix second of midnight IST for the day
// containing sec.
func istDayStart(sec int64) int64 {
	t := utils.ToIST(time.Unix(sec, 0))
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.Unix()
}

// QuoteAt returns the synthetic quote for inst at now. The spread is one
// tick on each side of the last price.
func (f *Feed) QuoteAt(inst models.Instrument, now time.Time) models.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()

	sec := now.Unix()
	last := f.priceAt(inst, sec)
	tick := tickFor(inst)

	rng := rand.New(rand.NewSource(inst.InstrumentToken ^ sec*7_919))
	return models.Quote{
		InstrumentToken: inst.InstrumentToken,
		TradingSymbol:   inst.TradingSymbol,
		Exchange:        inst.Exchange,
		Bid:             utils.FloorToTick(last-tick, tick),
		Ask:             utils.FloorToTick(last+tick, tick) + tick,
		Last:            utils.FloorToTick(last, tick),
		Volume:          100_000 + rng.Int63n(900_000),
		Timestamp:       now,
	}
}

// BarsAt synthesizes OHLCV candles by replaying the walk from the IST day
// start of `from`. Sampling four points per bar keeps the replay cheap
// while giving highs and lows some texture. The final bar is flagged
// Partial when `to` falls inside an unclosed interval.
func (f *Feed) BarsAt(inst models.Instrument, tf models.Timeframe, from, to time.Time) []models.Bar {
	d := tf.Duration()
	if d <= 0 || !from.Before(to) {
		return nil
	}

	token := inst.InstrumentToken
	tick := tickFor(inst)
	anchor := istDayStart(from.Unix())
	start := from.Truncate(d)
	if start.Unix() < anchor {
		start = time.Unix(anchor, 0)
	}

	// Replay from the day anchor so bars agree with the live walk.
	price := basePrice(token)
	sec := anchor

	advanceTo := func(target int64) float64 {
		for sec < target {
			sec++
			price = stepPrice(token, sec, price, tick)
		}
		return price
	}

	var bars []models.Bar
	for bs := start; bs.Before(to); bs = bs.Add(d) {
		be := bs.Add(d)
		sampleEnd := be
		partial := false
		if sampleEnd.After(to) {
			sampleEnd = to
			partial = true
		}

		span := sampleEnd.Unix() - bs.Unix()
		if span <= 0 {
			continue
		}

		open := advanceTo(bs.Unix())
		high, low := open, open
		for i := int64(1); i <= 3; i++ {
			p := advanceTo(bs.Unix() + span*i/4)
			if p > high {
				high = p
			}
			if p < low {
				low = p
			}
		}
		closep := advanceTo(sampleEnd.Unix())
		if closep > high {
			high = closep
		}
		if closep < low {
			low = closep
		}

		rng := rand.New(rand.NewSource(token ^ bs.Unix()*104_729))
		bars = append(bars, models.Bar{
			Timestamp: bs,
			Open:      utils.FloorToTick(open, tick),
			High:      utils.FloorToTick(high, tick),
			Low:       utils.FloorToTick(low, tick),
			Close:     utils.FloorToTick(closep, tick),
			Volume:    (10_000 + rng.Int63n(90_000)) * span / 60,
			Partial:   partial,
		})
	}
	return bars
}
