package models

// Signal is the direction a strategy recommends.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Decision is the output of one strategy evaluation for one instrument.
// Confidence is the strategy's own calibrated score in [0,1]; it is not
// comparable across strategies and is not a probability. Insufficient data
// and evaluator errors both yield Hold with a distinguishing Reason.
type Decision struct {
	Signal          Signal  `json:"signal"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	SuggestedStop   float64 `json:"suggested_stop,omitempty"`
	SuggestedTarget float64 `json:"suggested_target,omitempty"`
}

// Hold builds a Hold decision with the given reason.
func Hold(reason string) Decision {
	return Decision{Signal: SignalHold, Reason: reason}
}

// Actionable reports whether the decision asks for an order.
func (d Decision) Actionable() bool {
	return d.Signal == SignalBuy || d.Signal == SignalSell
}

// OrderSide maps the decision signal to an order side.
// Only meaningful when Actionable.
func (d Decision) OrderSide() OrderSide {
	if d.Signal == SignalSell {
		return Sell
	}
	return Buy
}
