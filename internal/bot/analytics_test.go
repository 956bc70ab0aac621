package bot

import (
	"math"
	"testing"

	"github.com/tradekar/tradekar/pkg/models"
)

func closedTrade(net, fees float64) ClosedTrade {
	return ClosedTrade{
		TradingSymbol: "TCS",
		Exchange:      "NSE",
		Side:          models.Buy,
		Quantity:      100,
		GrossPnL:      net + fees,
		Fees:          fees,
		NetPnL:        net,
	}
}

func TestSummarizeEmpty(t *testing.T) {
	a := Summarize(nil)
	if a.TotalTrades != 0 || a.NetPnL != 0 || a.WinRate != 0 || a.ProfitFactor != 0 {
		t.Errorf("Summarize(nil) = %+v, want zero value", a)
	}
}

func TestSummarize(t *testing.T) {
	trades := []ClosedTrade{
		closedTrade(100, 5),
		closedTrade(-50, 5),
		closedTrade(200, 5),
		closedTrade(-25, 5),
	}
	a := Summarize(trades)

	if a.TotalTrades != 4 || a.WinningTrades != 2 || a.LosingTrades != 2 {
		t.Errorf("counts = %d/%d/%d", a.TotalTrades, a.WinningTrades, a.LosingTrades)
	}
	if a.WinRate != 50 {
		t.Errorf("WinRate = %v, want 50", a.WinRate)
	}
	if a.NetPnL != 225 {
		t.Errorf("NetPnL = %v, want 225", a.NetPnL)
	}
	if a.TotalFees != 20 {
		t.Errorf("TotalFees = %v, want 20", a.TotalFees)
	}
	if a.GrossPnL != 245 {
		t.Errorf("GrossPnL = %v, want 245", a.GrossPnL)
	}
	if a.AvgWin != 150 {
		t.Errorf("AvgWin = %v, want 150", a.AvgWin)
	}
	if a.AvgLoss != 37.5 {
		t.Errorf("AvgLoss = %v, want 37.5", a.AvgLoss)
	}
	if a.ProfitFactor != 4 { // 300 won / 75 lost
		t.Errorf("ProfitFactor = %v, want 4", a.ProfitFactor)
	}
	if a.Expectancy != 56.25 {
		t.Errorf("Expectancy = %v, want 56.25", a.Expectancy)
	}
	// Curve: 100, 50, 250, 225 → deepest fall is 100 → 50.
	if a.MaxDrawdown != 50 {
		t.Errorf("MaxDrawdown = %v, want 50", a.MaxDrawdown)
	}
}

func TestSummarizeAllWins(t *testing.T) {
	a := Summarize([]ClosedTrade{closedTrade(10, 1), closedTrade(20, 1)})
	if a.LosingTrades != 0 || a.AvgLoss != 0 {
		t.Errorf("losses = %d, avg %v", a.LosingTrades, a.AvgLoss)
	}
	if !math.IsInf(a.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf", a.ProfitFactor)
	}
	if a.MaxDrawdown != 0 {
		t.Errorf("MaxDrawdown = %v, want 0", a.MaxDrawdown)
	}
	if a.WinRate != 100 {
		t.Errorf("WinRate = %v, want 100", a.WinRate)
	}
}

func TestSummarizeBreakevenTrade(t *testing.T) {
	// A zero-net trade counts in the totals but is neither win nor loss.
	a := Summarize([]ClosedTrade{closedTrade(0, 5), closedTrade(40, 5)})
	if a.TotalTrades != 2 || a.WinningTrades != 1 || a.LosingTrades != 0 {
		t.Errorf("counts = %d/%d/%d", a.TotalTrades, a.WinningTrades, a.LosingTrades)
	}
	if a.WinRate != 50 {
		t.Errorf("WinRate = %v, want 50", a.WinRate)
	}
	if a.Expectancy != 20 {
		t.Errorf("Expectancy = %v, want 20", a.Expectancy)
	}
}

func TestMaxDrawdownDeepTrough(t *testing.T) {
	// Curve: 100, -100, -300, 200. Peak 100, trough -300 → drawdown 400.
	trades := []ClosedTrade{
		closedTrade(100, 0),
		closedTrade(-200, 0),
		closedTrade(-200, 0),
		closedTrade(500, 0),
	}
	if got := maxDrawdown(trades); got != 400 {
		t.Errorf("maxDrawdown = %v, want 400", got)
	}
}
