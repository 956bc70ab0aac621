// Package risk sizes strategy decisions into lot-aligned order intents.
// Every refusal here is a RiskRejection-kind error: the strategy accepted
// the setup, the risk gates did not. The supervisor logs rejections as
// warning activities; they never surface as HTTP failures.
package risk

import (
	"fmt"
	"math"

	"github.com/tradekar/tradekar/internal/broker"
	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Sizing Parameters
// ════════════════════════════════════════════════════════════════════

// DefaultMaxNotionalPercent caps a single trade's notional at a quarter of
// equity when the limits do not say otherwise.
const DefaultMaxNotionalPercent = 25.0

// Limits carries the sizing inputs for one evaluation: the budget lifted
// from the bot configuration plus the instrument's latest ATR reading.
type Limits struct {
	RiskPerTradePercent float64
	RewardRatio         float64
	ATRMultiplier       float64
	MaxPositions        int
	// MaxNotionalPercent caps one trade's notional as a percentage of
	// equity. Zero applies DefaultMaxNotionalPercent.
	MaxNotionalPercent float64
	// ATR is the instrument's latest reading, consulted when the decision
	// carries no suggested stop. Zero means undefined.
	ATR float64
	// Product of the generated intent. Empty defaults to intraday MIS.
	Product models.OrderProduct
}

// ErrInsufficientStop is returned when no usable stop distance exists:
// the decision suggested none and ATR is undefined, or the suggestion
// sits on the wrong side of the entry.
var ErrInsufficientStop = &broker.Error{Kind: broker.KindRiskRejection, Message: "stop distance is zero or negative"}

// ════════════════════════════════════════════════════════════════════
// Sizing
// ════════════════════════════════════════════════════════════════════

// Size turns an actionable decision into an OrderIntent, or rejects it.
//
// The sequence is fixed: risk budget from equity, stop distance from the
// decision (else ATR), quantity floored to the lot size, target from the
// reward ratio (else the decision's suggestion), then the notional,
// margin, and position-count gates. Quantity is sized so that a stop-out
// loses at most risk_per_trade_percent of equity.
func Size(decision models.Decision, snapshot models.AccountSnapshot, inst models.Instrument, quote models.Quote, cfg Limits, openPositions []models.Position) (models.OrderIntent, error) {
	const op = "risk.Size"

	if !decision.Actionable() {
		return models.OrderIntent{}, broker.E(broker.KindInternal, op, "decision is not actionable")
	}

	side := decision.OrderSide()
	entry := entryPrice(side, quote)
	if entry <= 0 {
		return models.OrderIntent{}, broker.E(broker.KindRiskRejection, op, "no usable quote price")
	}

	equity := snapshot.Equity
	riskAmount := equity * cfg.RiskPerTradePercent / 100
	if riskAmount <= 0 {
		return models.OrderIntent{}, broker.E(broker.KindRiskRejection, op, "risk budget is zero: no equity to risk")
	}

	// Stop distance before any division. A suggested stop on the wrong
	// side of the entry yields a non-positive distance and is refused
	// rather than silently flipped.
	var stopDistance float64
	switch {
	case decision.SuggestedStop > 0:
		if side == models.Buy {
			stopDistance = entry - decision.SuggestedStop
		} else {
			stopDistance = decision.SuggestedStop - entry
		}
	case cfg.ATR > 0:
		stopDistance = cfg.ATR * cfg.ATRMultiplier
	}
	if stopDistance <= 0 {
		return models.OrderIntent{}, fmt.Errorf("%s: %w", op, ErrInsufficientStop)
	}

	lotSize := inst.LotSize
	if lotSize < 1 {
		lotSize = 1
	}
	qty := int(math.Floor(riskAmount/stopDistance)) / lotSize * lotSize
	if qty < lotSize {
		return models.OrderIntent{}, broker.E(broker.KindRiskRejection, op,
			fmt.Sprintf("risk budget %s sizes below one lot of %d", utils.FormatINR(riskAmount), lotSize))
	}

	stopLoss, takeProfit := bracketLevels(side, entry, stopDistance, decision, cfg.RewardRatio)
	if inst.TickSize > 0 {
		stopLoss = utils.RoundToTick(stopLoss, inst.TickSize)
		takeProfit = utils.RoundToTick(takeProfit, inst.TickSize)
	}

	product := cfg.Product
	if product == "" {
		product = models.ProductMIS
	}

	notional := entry * float64(qty)
	maxNotionalPct := cfg.MaxNotionalPercent
	if maxNotionalPct <= 0 {
		maxNotionalPct = DefaultMaxNotionalPercent
	}
	if notional > equity*maxNotionalPct/100 {
		return models.OrderIntent{}, fmt.Errorf("%s: %w: notional %s exceeds %.0f%% of equity",
			op, broker.ErrInsufficientMargin, utils.FormatINR(notional), maxNotionalPct)
	}
	if need := notional * broker.MarginFactor(product); need > snapshot.MarginAvailable {
		return models.OrderIntent{}, fmt.Errorf("%s: %w: need %s, free %s",
			op, broker.ErrInsufficientMargin, utils.FormatINR(need), utils.FormatINR(snapshot.MarginAvailable))
	}

	if n := prospectiveCount(openPositions, inst, product); n > cfg.MaxPositions && cfg.MaxPositions >= 1 {
		return models.OrderIntent{}, broker.E(broker.KindRiskRejection, op,
			fmt.Sprintf("position count %d would exceed max %d", n, cfg.MaxPositions))
	}

	return models.OrderIntent{
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		OrderType:  models.Market,
		Product:    product,
		Validity:   models.ValidityDay,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Reason:     decision.Reason,
	}, nil
}

// entryPrice is the price the order would cross the spread at: the ask
// for a buy, the bid for a sell, last trade when the book side is empty.
func entryPrice(side models.OrderSide, q models.Quote) float64 {
	if side == models.Buy && q.Ask > 0 {
		return q.Ask
	}
	if side == models.Sell && q.Bid > 0 {
		return q.Bid
	}
	return q.Last
}

// bracketLevels derives the stop and target prices. The target honors the
// decision's suggestion only when it sits on the profitable side of the
// entry; otherwise the reward ratio scales the stop distance.
func bracketLevels(side models.OrderSide, entry, stopDistance float64, d models.Decision, rewardRatio float64) (stopLoss, takeProfit float64) {
	targetDistance := stopDistance * rewardRatio
	if side == models.Buy {
		stopLoss = entry - stopDistance
		takeProfit = entry + targetDistance
		if d.SuggestedTarget > entry {
			takeProfit = d.SuggestedTarget
		}
	} else {
		stopLoss = entry + stopDistance
		takeProfit = entry - targetDistance
		if d.SuggestedTarget > 0 && d.SuggestedTarget < entry {
			takeProfit = d.SuggestedTarget
		}
	}
	return stopLoss, takeProfit
}

// prospectiveCount is the open-position count if this intent fills: adding
// to an instrument already held does not open a new position.
func prospectiveCount(open []models.Position, inst models.Instrument, product models.OrderProduct) int {
	n := 0
	held := false
	key := models.Position{TradingSymbol: inst.TradingSymbol, Exchange: inst.Exchange, Product: product}.Key()
	for _, p := range open {
		if !p.IsOpen() {
			continue
		}
		n++
		if p.Key() == key {
			held = true
		}
	}
	if !held {
		n++
	}
	return n
}
