package models

import (
	"fmt"
	"time"
)

// Quote is a point-in-time market snapshot for an instrument.
type Quote struct {
	InstrumentToken int64     `json:"instrument_token"`
	TradingSymbol   string    `json:"trading_symbol"`
	Exchange        string    `json:"exchange"`
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	Last            float64   `json:"last"`
	Volume          int64     `json:"volume"`
	Timestamp       time.Time `json:"timestamp"`
}

// IsStale reports whether the quote is older than one polling interval.
func (q Quote) IsStale(interval time.Duration, now time.Time) bool {
	return now.Sub(q.Timestamp) > interval
}

// Bar is a single OHLCV candle at a fixed timeframe.
// Partial marks the current, still-forming interval.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Partial   bool      `json:"partial,omitempty"`
}

// Timeframe represents the bar aggregation interval.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1m"
	Timeframe3Min  Timeframe = "3m"
	Timeframe5Min  Timeframe = "5m"
	Timeframe15Min Timeframe = "15m"
	Timeframe30Min Timeframe = "30m"
	Timeframe1Hour Timeframe = "1h"
	Timeframe1Day  Timeframe = "1d"
)

// Timeframes lists every supported interval, shortest first.
var Timeframes = []Timeframe{
	Timeframe1Min, Timeframe3Min, Timeframe5Min,
	Timeframe15Min, Timeframe30Min, Timeframe1Hour, Timeframe1Day,
}

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1Min:  time.Minute,
	Timeframe3Min:  3 * time.Minute,
	Timeframe5Min:  5 * time.Minute,
	Timeframe15Min: 15 * time.Minute,
	Timeframe30Min: 30 * time.Minute,
	Timeframe1Hour: time.Hour,
	Timeframe1Day:  24 * time.Hour,
}

// Valid reports whether tf is one of the supported intervals.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the wall-clock length of one bar.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}
