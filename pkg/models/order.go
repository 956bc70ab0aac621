package models

import "time"

// OrderSide represents buy or sell.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the type of order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	SL     OrderType = "SL"   // Stop-Loss (limit after trigger)
	SLM    OrderType = "SL-M" // Stop-Loss Market
)

// OrderProduct represents the product type.
type OrderProduct string

const (
	ProductCNC  OrderProduct = "CNC"  // Cash and Carry (delivery)
	ProductMIS  OrderProduct = "MIS"  // Margin Intraday Square-off
	ProductNRML OrderProduct = "NRML" // Normal (F&O)
)

// OrderValidity governs how long an order rests with the exchange.
type OrderValidity string

const (
	ValidityDay OrderValidity = "DAY"
	ValidityIOC OrderValidity = "IOC"
)

// OrderStatus represents the current state of an order.
// Transitions: PENDING -> OPEN -> (COMPLETE | CANCELLED | REJECTED).
// Terminal states are absorbing.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderComplete || s == OrderCancelled || s == OrderRejected
}

// OrderIntent is a risk-sized prospective order, built by the sizing layer
// and handed to a broker adapter. Quantity is always a positive multiple of
// the instrument's lot size; StopLoss and TakeProfit sit on opposite sides
// of the intended entry.
type OrderIntent struct {
	Instrument   Instrument    `json:"instrument"`
	Side         OrderSide     `json:"side"`
	Quantity     int           `json:"quantity"`
	OrderType    OrderType     `json:"order_type"`
	Product      OrderProduct  `json:"product"`
	Validity     OrderValidity `json:"validity"`
	Price        float64       `json:"price,omitempty"`         // LIMIT and SL orders
	TriggerPrice float64       `json:"trigger_price,omitempty"` // SL and SL-M orders
	StopLoss     float64       `json:"stop_loss,omitempty"`
	TakeProfit   float64       `json:"take_profit,omitempty"`
	Reason       string        `json:"reason,omitempty"` // strategy rationale, for the activity trail
	Tag          string        `json:"tag,omitempty"`
}

// OrderChanges carries the mutable fields of a modify request.
// Zero values mean "leave unchanged".
type OrderChanges struct {
	Quantity     int     `json:"quantity,omitempty"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	OrderType    string  `json:"order_type,omitempty"`
}

// Order is the broker-tracked instance of an intent.
// Status is mutated only by broker observation, never locally.
type Order struct {
	OrderID       string        `json:"order_id"`
	TradingSymbol string        `json:"trading_symbol"`
	Exchange      string        `json:"exchange"`
	Side          OrderSide     `json:"side"`
	OrderType     OrderType     `json:"order_type"`
	Product       OrderProduct  `json:"product"`
	Validity      OrderValidity `json:"validity"`
	Quantity      int           `json:"quantity"`
	FilledQty     int           `json:"filled_qty"`
	PendingQty    int           `json:"pending_qty"`
	Price         float64       `json:"price,omitempty"`
	TriggerPrice  float64       `json:"trigger_price,omitempty"`
	AvgFillPrice  float64       `json:"avg_fill_price"`
	Status        OrderStatus   `json:"status"`
	StatusMessage string        `json:"status_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Tag           string        `json:"tag,omitempty"`
}

// Trade is an immutable fill record. Append-only.
type Trade struct {
	TradeID       string    `json:"trade_id"`
	OrderID       string    `json:"order_id"`
	TradingSymbol string    `json:"trading_symbol"`
	Exchange      string    `json:"exchange"`
	Side          OrderSide `json:"side"`
	Quantity      int       `json:"quantity"`
	Price         float64   `json:"price"`
	Fees          float64   `json:"fees"`
	Timestamp     time.Time `json:"timestamp"`
}
