package bot

import (
	"math"
	"time"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Closed-Trade Analytics
// ════════════════════════════════════════════════════════════════════

// ClosedTrade is one completed round trip booked by the supervisor when a
// position's net quantity returns to zero (or is reduced; partial exits
// book their realized slice).
type ClosedTrade struct {
	TradingSymbol string           `json:"trading_symbol"`
	Exchange      string           `json:"exchange"`
	Side          models.OrderSide `json:"side"` // direction of the closed exposure
	Quantity      int              `json:"quantity"`
	EntryPrice    float64          `json:"entry_price"`
	ExitPrice     float64          `json:"exit_price"`
	GrossPnL      float64          `json:"gross_pnl"`
	Fees          float64          `json:"fees"`
	NetPnL        float64          `json:"net_pnl"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      time.Time        `json:"closed_at"`
	ExitReason    string           `json:"exit_reason,omitempty"` // stop_loss|take_profit|signal|manual|day_roll
}

// Analytics is the read-only performance summary served by the control
// plane. All percentages are 0–100; money is INR net of fees unless the
// field says gross.
type Analytics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent
	GrossPnL      float64 `json:"gross_pnl"`
	TotalFees     float64 `json:"total_fees"`
	NetPnL        float64 `json:"net_pnl"`
	ProfitFactor  float64 `json:"profit_factor"` // 0 when no losses and no wins
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"` // positive magnitude
	Expectancy    float64 `json:"expectancy"`
	MaxDrawdown   float64 `json:"max_drawdown"` // worst peak-to-trough of the closed-trade curve
}

// Summarize computes the performance summary over closed trades in close
// order. Win/loss classification and drawdown use net-of-fees P&L.
func Summarize(trades []ClosedTrade) Analytics {
	var a Analytics
	a.TotalTrades = len(trades)
	if a.TotalTrades == 0 {
		return a
	}

	var totalWin, totalLoss float64
	for _, t := range trades {
		a.GrossPnL += t.GrossPnL
		a.TotalFees += t.Fees
		a.NetPnL += t.NetPnL
		if t.NetPnL > 0 {
			a.WinningTrades++
			totalWin += t.NetPnL
		} else if t.NetPnL < 0 {
			a.LosingTrades++
			totalLoss += math.Abs(t.NetPnL)
		}
	}

	a.WinRate = float64(a.WinningTrades) / float64(a.TotalTrades) * 100
	if a.WinningTrades > 0 {
		a.AvgWin = totalWin / float64(a.WinningTrades)
	}
	if a.LosingTrades > 0 {
		a.AvgLoss = totalLoss / float64(a.LosingTrades)
	}
	if totalLoss > 0 {
		a.ProfitFactor = totalWin / totalLoss
	} else if totalWin > 0 {
		a.ProfitFactor = math.Inf(1)
	}
	a.Expectancy = a.NetPnL / float64(a.TotalTrades)
	a.MaxDrawdown = maxDrawdown(trades)

	return a
}

// maxDrawdown walks the cumulative net P&L curve trade by trade and
// returns the deepest peak-to-trough fall.
func maxDrawdown(trades []ClosedTrade) float64 {
	var equity, peak, maxDD float64
	for _, t := range trades {
		equity += t.NetPnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
