package models

import (
	"encoding/json"
	"testing"
	"time"
)

// ── Instrument ──

func TestInstrumentKey(t *testing.T) {
	i := Instrument{Exchange: "NSE", TradingSymbol: "RELIANCE"}
	if got := i.Key(); got != "NSE:RELIANCE" {
		t.Errorf("Key() = %q, want %q", got, "NSE:RELIANCE")
	}
}

func TestInstrumentIsDerivative(t *testing.T) {
	tests := []struct {
		segment Segment
		want    bool
	}{
		{SegmentEquity, false},
		{SegmentIndex, false},
		{SegmentFutures, true},
		{SegmentOptions, true},
	}
	for _, tt := range tests {
		i := Instrument{Segment: tt.segment}
		if got := i.IsDerivative(); got != tt.want {
			t.Errorf("IsDerivative(%s) = %v, want %v", tt.segment, got, tt.want)
		}
	}
}

func TestInstrumentJSONRoundtrip(t *testing.T) {
	expiry := time.Date(2026, 9, 24, 0, 0, 0, 0, time.UTC)
	i := Instrument{
		InstrumentToken: 12345678,
		Exchange:        "NFO",
		TradingSymbol:   "NIFTY25SEP24500CE",
		Segment:         SegmentOptions,
		LotSize:         75,
		TickSize:        0.05,
		Expiry:          &expiry,
		Strike:          24500,
		OptionType:      OptionCall,
	}
	data, err := json.Marshal(i)
	if err != nil {
		t.Fatalf("json.Marshal(Instrument) error: %v", err)
	}
	var decoded Instrument
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal(Instrument) error: %v", err)
	}
	if decoded.TradingSymbol != i.TradingSymbol {
		t.Errorf("TradingSymbol: got %q, want %q", decoded.TradingSymbol, i.TradingSymbol)
	}
	if decoded.LotSize != i.LotSize {
		t.Errorf("LotSize: got %d, want %d", decoded.LotSize, i.LotSize)
	}
	if decoded.Expiry == nil || !decoded.Expiry.Equal(expiry) {
		t.Errorf("Expiry: got %v, want %v", decoded.Expiry, expiry)
	}
}

// ── Timeframe ──

func TestTimeframeValid(t *testing.T) {
	for _, tf := range Timeframes {
		if !tf.Valid() {
			t.Errorf("Timeframe %q should be valid", tf)
		}
	}
	if Timeframe("2m").Valid() {
		t.Error("Timeframe 2m should not be valid")
	}
	if Timeframe("").Valid() {
		t.Error("empty Timeframe should not be valid")
	}
}

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		want time.Duration
	}{
		{Timeframe1Min, time.Minute},
		{Timeframe5Min, 5 * time.Minute},
		{Timeframe1Hour, time.Hour},
		{Timeframe1Day, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.tf.Duration(); got != tt.want {
			t.Errorf("Duration(%s) = %v, want %v", tt.tf, got, tt.want)
		}
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("15m")
	if err != nil {
		t.Fatalf("ParseTimeframe(15m) error: %v", err)
	}
	if tf != Timeframe15Min {
		t.Errorf("ParseTimeframe(15m) = %q, want %q", tf, Timeframe15Min)
	}

	if _, err := ParseTimeframe("7m"); err == nil {
		t.Error("ParseTimeframe(7m) should fail")
	}
}

// ── Quote ──

func TestQuoteIsStale(t *testing.T) {
	now := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	q := Quote{Timestamp: now.Add(-4 * time.Second)}

	if q.IsStale(5*time.Second, now) {
		t.Error("quote 4s old should not be stale for a 5s interval")
	}
	if !q.IsStale(3*time.Second, now) {
		t.Error("quote 4s old should be stale for a 3s interval")
	}
}

// ── Order ──

func TestOrderStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderPending, false},
		{OrderOpen, false},
		{OrderComplete, true},
		{OrderCancelled, true},
		{OrderRejected, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell {
		t.Error("Buy.Opposite() should be Sell")
	}
	if Sell.Opposite() != Buy {
		t.Error("Sell.Opposite() should be Buy")
	}
}

// ── Position ──

func TestPositionKey(t *testing.T) {
	p := Position{TradingSymbol: "TCS", Exchange: "NSE", Product: ProductMIS}
	if got := p.Key(); got != "NSE:TCS:MIS" {
		t.Errorf("Key() = %q, want %q", got, "NSE:TCS:MIS")
	}
}

func TestPositionIsOpen(t *testing.T) {
	if (Position{NetQuantity: 0}).IsOpen() {
		t.Error("zero net quantity should not be open")
	}
	if !(Position{NetQuantity: 10}).IsOpen() {
		t.Error("long position should be open")
	}
	if !(Position{NetQuantity: -10}).IsOpen() {
		t.Error("short position should be open")
	}
}

func TestPositionPnL(t *testing.T) {
	p := Position{RealizedPnL: 150.0, UnrealizedPnL: -40.0}
	if got := p.PnL(); got != 110.0 {
		t.Errorf("PnL() = %f, want 110.0", got)
	}
}

// ── Decision ──

func TestDecisionActionable(t *testing.T) {
	if Hold("waiting").Actionable() {
		t.Error("Hold decision should not be actionable")
	}
	if !(Decision{Signal: SignalBuy}).Actionable() {
		t.Error("buy decision should be actionable")
	}
	if !(Decision{Signal: SignalSell}).Actionable() {
		t.Error("sell decision should be actionable")
	}
}

func TestDecisionOrderSide(t *testing.T) {
	if (Decision{Signal: SignalBuy}).OrderSide() != Buy {
		t.Error("buy signal should map to Buy side")
	}
	if (Decision{Signal: SignalSell}).OrderSide() != Sell {
		t.Error("sell signal should map to Sell side")
	}
}

// ── Credential ──

func TestCredentialHasAccessToken(t *testing.T) {
	now := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"no token", Credential{}, false},
		{"token without expiry", Credential{AccessToken: "tok"}, true},
		{"token not yet expired", Credential{AccessToken: "tok", ExpiresAt: &future}, true},
		{"token expired", Credential{AccessToken: "tok", ExpiresAt: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.HasAccessToken(now); got != tt.want {
				t.Errorf("HasAccessToken = %v, want %v", got, tt.want)
			}
		})
	}
}
