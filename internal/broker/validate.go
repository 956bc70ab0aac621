package broker

import (
	"fmt"
	"strings"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Order Validation
// ════════════════════════════════════════════════════════════════════

// invalid builds a Validation-kind error bound to a field.
func invalid(op, field, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// ValidateIntent checks an order intent for basic correctness before it
// reaches an adapter. The first failed check wins.
func ValidateIntent(intent models.OrderIntent) error {
	const op = "broker.ValidateIntent"

	if intent.Instrument.TradingSymbol == "" {
		return invalid(op, "trading_symbol", "trading symbol is required")
	}

	exchange := strings.ToUpper(intent.Instrument.Exchange)
	switch exchange {
	case models.ExchangeNSE, models.ExchangeBSE, models.ExchangeNFO:
	default:
		return invalid(op, "exchange", "invalid exchange %q, must be NSE, BSE, or NFO", intent.Instrument.Exchange)
	}

	if intent.Side != models.Buy && intent.Side != models.Sell {
		return invalid(op, "side", "invalid order side %q", intent.Side)
	}

	switch intent.OrderType {
	case models.Market, models.Limit, models.SL, models.SLM:
	default:
		return invalid(op, "order_type", "invalid order type %q", intent.OrderType)
	}

	switch intent.Product {
	case models.ProductCNC, models.ProductMIS, models.ProductNRML:
	default:
		return invalid(op, "product", "invalid product %q", intent.Product)
	}

	switch intent.Validity {
	case "", models.ValidityDay, models.ValidityIOC:
	default:
		return invalid(op, "validity", "invalid validity %q", intent.Validity)
	}

	if intent.Quantity <= 0 {
		return invalid(op, "quantity", "quantity must be positive")
	}
	if lot := intent.Instrument.LotSize; lot > 1 && intent.Quantity%lot != 0 {
		return invalid(op, "quantity", "quantity %d is not a multiple of lot size %d", intent.Quantity, lot)
	}

	if intent.Price < 0 {
		return invalid(op, "price", "price cannot be negative")
	}
	if intent.OrderType == models.Limit && intent.Price <= 0 {
		return invalid(op, "price", "limit orders require a positive price")
	}
	if intent.OrderType == models.SL && intent.Price <= 0 {
		return invalid(op, "price", "SL orders require both price and trigger_price")
	}
	if (intent.OrderType == models.SL || intent.OrderType == models.SLM) && intent.TriggerPrice <= 0 {
		return invalid(op, "trigger_price", "stop orders require a positive trigger price")
	}

	if intent.Product == models.ProductNRML && exchange != models.ExchangeNFO {
		return invalid(op, "product", "NRML product is only valid on NFO exchange")
	}

	if intent.StopLoss > 0 && intent.Price > 0 {
		if err := ValidateStopLoss(intent.Side, intent.Price, intent.StopLoss); err != nil {
			return err
		}
	}
	if intent.TakeProfit > 0 && intent.Price > 0 {
		if err := ValidateTarget(intent.Side, intent.Price, intent.TakeProfit); err != nil {
			return err
		}
	}

	return nil
}

// ValidateStopLoss checks that a protective stop sits on the loss side of
// the entry price.
func ValidateStopLoss(side models.OrderSide, entryPrice, stopLoss float64) error {
	const op = "broker.ValidateStopLoss"
	if stopLoss <= 0 {
		return invalid(op, "stop_loss", "stop_loss must be positive")
	}
	if side == models.Buy && stopLoss >= entryPrice {
		return invalid(op, "stop_loss", "for BUY orders, stop_loss (%.2f) must be below entry price (%.2f)", stopLoss, entryPrice)
	}
	if side == models.Sell && stopLoss <= entryPrice {
		return invalid(op, "stop_loss", "for SELL orders, stop_loss (%.2f) must be above entry price (%.2f)", stopLoss, entryPrice)
	}
	return nil
}

// ValidateTarget checks that a profit target sits on the gain side of the
// entry price.
func ValidateTarget(side models.OrderSide, entryPrice, target float64) error {
	const op = "broker.ValidateTarget"
	if target <= 0 {
		return invalid(op, "target", "target must be positive")
	}
	if side == models.Buy && target <= entryPrice {
		return invalid(op, "target", "for BUY orders, target (%.2f) must be above entry price (%.2f)", target, entryPrice)
	}
	if side == models.Sell && target >= entryPrice {
		return invalid(op, "target", "for SELL orders, target (%.2f) must be below entry price (%.2f)", target, entryPrice)
	}
	return nil
}

// ValidateChanges checks an order modification request against the current
// order state.
func ValidateChanges(current *models.Order, changes models.OrderChanges) error {
	const op = "broker.ValidateChanges"
	if current == nil {
		return ErrOrderNotFound
	}
	if current.Status.IsTerminal() {
		return &Error{
			Kind:    KindStateConflict,
			Op:      op,
			Message: fmt.Sprintf("order %s is %s", current.OrderID, current.Status),
			Err:     ErrAlreadyTerminal,
		}
	}
	if changes.Quantity < 0 {
		return invalid(op, "quantity", "modified quantity must be non-negative")
	}
	if changes.Price < 0 {
		return invalid(op, "price", "modified price cannot be negative")
	}
	if changes.TriggerPrice < 0 {
		return invalid(op, "trigger_price", "modified trigger price cannot be negative")
	}
	if changes.OrderType != "" {
		switch models.OrderType(changes.OrderType) {
		case models.Market, models.Limit, models.SL, models.SLM:
		default:
			return invalid(op, "order_type", "invalid order type %q", changes.OrderType)
		}
	}
	return nil
}
