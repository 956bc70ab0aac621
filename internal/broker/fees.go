package broker

import "github.com/tradekar/tradekar/pkg/models"

// ════════════════════════════════════════════════════════════════════
// Indian Brokerage & Statutory Charges
// ════════════════════════════════════════════════════════════════════

// Charges is the per-fill cost breakdown under the Indian discount-broker
// fee model (Zerodha schedule).
type Charges struct {
	Brokerage   float64 `json:"brokerage"`
	STT         float64 `json:"stt"`
	ExchangeTxn float64 `json:"exchange_txn"`
	SEBICharges float64 `json:"sebi_charges"`
	StampDuty   float64 `json:"stamp_duty"`
	GST         float64 `json:"gst"`
	Total       float64 `json:"total"`
}

// Statutory rates applied on single-side turnover.
const (
	exchangeTxnRate = 0.0000345 // NSE transaction charge
	sebiRate        = 0.000001  // SEBI turnover fee
	gstRate         = 0.18      // GST on brokerage + txn + SEBI

	sttDeliveryRate     = 0.001    // CNC, both sides
	sttIntradaySellRate = 0.00025  // MIS, sell side only
	sttFuturesSellRate  = 0.000625 // NRML, sell side only

	stampDeliveryBuyRate = 0.00015 // CNC, buy side only
	stampIntradayBuyRate = 0.00003 // MIS / NRML, buy side only

	brokerageRate = 0.0003 // intraday and F&O, capped
	brokerageCap  = 20.0   // ₹20 per executed order
)

// FillCharges computes the charges for one executed fill.
func FillCharges(side models.OrderSide, price float64, qty int, product models.OrderProduct) Charges {
	turnover := price * float64(qty)
	var c Charges

	switch product {
	case models.ProductCNC:
		// Delivery: zero brokerage, STT on both sides, stamp duty on buys.
		c.STT = turnover * sttDeliveryRate
		if side == models.Buy {
			c.StampDuty = turnover * stampDeliveryBuyRate
		}
	case models.ProductMIS:
		c.Brokerage = min(turnover*brokerageRate, brokerageCap)
		if side == models.Sell {
			c.STT = turnover * sttIntradaySellRate
		} else {
			c.StampDuty = turnover * stampIntradayBuyRate
		}
	case models.ProductNRML:
		c.Brokerage = min(turnover*brokerageRate, brokerageCap)
		if side == models.Sell {
			c.STT = turnover * sttFuturesSellRate
		} else {
			c.StampDuty = turnover * stampIntradayBuyRate
		}
	}

	c.ExchangeTxn = turnover * exchangeTxnRate
	c.SEBICharges = turnover * sebiRate
	c.GST = (c.Brokerage + c.ExchangeTxn + c.SEBICharges) * gstRate
	c.Total = c.Brokerage + c.STT + c.ExchangeTxn + c.SEBICharges + c.StampDuty + c.GST
	return c
}

// RoundTripCharges is the buy-plus-sell cost of a completed trade, used by
// trade analytics to report net P&L.
type RoundTripCharges struct {
	Buy    Charges `json:"buy"`
	Sell   Charges `json:"sell"`
	Total  float64 `json:"total"`
	NetPnL float64 `json:"net_pnl"`
}

// CalculateRoundTrip computes total charges and net P&L for a buy at
// buyPrice and a sell at sellPrice of qty units.
func CalculateRoundTrip(buyPrice, sellPrice float64, qty int, product models.OrderProduct) RoundTripCharges {
	rt := RoundTripCharges{
		Buy:  FillCharges(models.Buy, buyPrice, qty, product),
		Sell: FillCharges(models.Sell, sellPrice, qty, product),
	}
	rt.Total = rt.Buy.Total + rt.Sell.Total
	gross := (sellPrice - buyPrice) * float64(qty)
	rt.NetPnL = gross - rt.Total
	return rt
}
