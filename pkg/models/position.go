package models

// Position is the net open exposure for one instrument and product.
// NetQuantity is signed: positive = long, negative = short. Zero means
// no position; a fill that crosses zero closes the position and may open
// the opposite one.
type Position struct {
	TradingSymbol string       `json:"trading_symbol"`
	Exchange      string       `json:"exchange"`
	Product       OrderProduct `json:"product"`
	NetQuantity   int          `json:"net_quantity"`
	AvgEntryPrice float64      `json:"avg_entry_price"`
	LastPrice     float64      `json:"last_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	RealizedPnL   float64      `json:"realized_pnl"`
	Value         float64      `json:"value"` // |net_quantity| * last_price
	LotSize       int          `json:"lot_size,omitempty"`
}

// Key returns the map key a position is tracked under.
func (p Position) Key() string {
	return p.Exchange + ":" + p.TradingSymbol + ":" + string(p.Product)
}

// IsOpen reports whether any exposure remains.
func (p Position) IsOpen() bool {
	return p.NetQuantity != 0
}

// PnL returns realized plus unrealized profit.
func (p Position) PnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL
}
