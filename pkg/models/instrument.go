// Package models defines the core data structures shared across tradekar.
package models

import (
	"fmt"
	"time"
)

// Exchange identifiers as used by the broker.
const (
	ExchangeNSE = "NSE" // National Stock Exchange, cash segment
	ExchangeBSE = "BSE" // Bombay Stock Exchange, cash segment
	ExchangeNFO = "NFO" // NSE futures & options
)

// Segment classifies what kind of contract an instrument is.
type Segment string

const (
	SegmentEquity  Segment = "equity"
	SegmentFutures Segment = "futures"
	SegmentOptions Segment = "options"
	SegmentIndex   Segment = "index"
)

// OptionType distinguishes calls from puts. Empty for non-options.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Instrument is a tradable contract from the broker's instrument master.
// Uniquely identified by (Exchange, TradingSymbol); the broker also assigns
// a stable numeric InstrumentToken. Immutable between catalog refreshes.
type Instrument struct {
	InstrumentToken int64      `json:"instrument_token"`
	Exchange        string     `json:"exchange"`       // "NSE", "BSE", "NFO"
	TradingSymbol   string     `json:"trading_symbol"` // e.g., "RELIANCE", "NIFTY25SEP24500CE"
	Name            string     `json:"name,omitempty"`
	Segment         Segment    `json:"segment"`
	LotSize         int        `json:"lot_size"`  // 1 for cash equity
	TickSize        float64    `json:"tick_size"` // minimum price increment
	Expiry          *time.Time `json:"expiry,omitempty"`
	Strike          float64    `json:"strike,omitempty"`
	OptionType      OptionType `json:"option_type,omitempty"`
}

// Key returns the canonical "EXCHANGE:SYMBOL" identifier.
func (i Instrument) Key() string {
	return fmt.Sprintf("%s:%s", i.Exchange, i.TradingSymbol)
}

// IsDerivative reports whether the instrument trades on the F&O segment.
func (i Instrument) IsDerivative() bool {
	return i.Segment == SegmentFutures || i.Segment == SegmentOptions
}
