package catalog

import (
	"context"

	"github.com/tradekar/tradekar/pkg/models"
)

// Universe is the builtin instrument master used when no broker has
// supplied one: liquid NSE cash names plus the two benchmark indices.
// It keeps paper trading usable offline, before any live refresh, and
// a live refresh replaces it wholesale. Tokens follow Zerodha's
// published instrument dump so a later live session resolves the same
// contracts.
type Universe struct{}

// Name implements Source.
func (Universe) Name() string { return "builtin" }

// Instruments implements Source.
func (Universe) Instruments(_ context.Context) ([]models.Instrument, error) {
	out := make([]models.Instrument, 0, len(builtinEquities)+len(builtinIndices))
	for _, e := range builtinEquities {
		out = append(out, models.Instrument{
			InstrumentToken: e.token,
			Exchange:        models.ExchangeNSE,
			TradingSymbol:   e.symbol,
			Name:            e.name,
			Segment:         models.SegmentEquity,
			LotSize:         1,
			TickSize:        0.05,
		})
	}
	for _, i := range builtinIndices {
		out = append(out, models.Instrument{
			InstrumentToken: i.token,
			Exchange:        models.ExchangeNSE,
			TradingSymbol:   i.symbol,
			Name:            i.name,
			Segment:         models.SegmentIndex,
			LotSize:         1,
			TickSize:        0.05,
		})
	}
	return out, nil
}

type builtinInstrument struct {
	token  int64
	symbol string
	name   string
}

var builtinEquities = []builtinInstrument{
	{738561, "RELIANCE", "Reliance Industries"},
	{2953217, "TCS", "Tata Consultancy Services"},
	{341249, "HDFCBANK", "HDFC Bank"},
	{1270529, "ICICIBANK", "ICICI Bank"},
	{408065, "INFY", "Infosys"},
	{779521, "SBIN", "State Bank of India"},
	{2714625, "BHARTIARTL", "Bharti Airtel"},
	{424961, "ITC", "ITC"},
	{1510401, "AXISBANK", "Axis Bank"},
	{492033, "KOTAKBANK", "Kotak Mahindra Bank"},
	{2939649, "LT", "Larsen & Toubro"},
	{356865, "HCLTECH", "HCL Technologies"},
	{1850625, "MARUTI", "Maruti Suzuki India"},
	{340481, "HINDUNILVR", "Hindustan Unilever"},
	{3465729, "TITAN", "Titan Company"},
	{2815745, "SUNPHARMA", "Sun Pharmaceutical"},
	{884737, "TATAMOTORS", "Tata Motors"},
	{895745, "TATASTEEL", "Tata Steel"},
	{3861249, "WIPRO", "Wipro"},
	{2952193, "ULTRACEMCO", "UltraTech Cement"},
	{81153, "BAJFINANCE", "Bajaj Finance"},
	{4268801, "BAJAJFINSV", "Bajaj Finserv"},
	{2977281, "NTPC", "NTPC"},
	{3834113, "POWERGRID", "Power Grid Corporation"},
	{2752769, "ONGC", "Oil & Natural Gas Corporation"},
	{633601, "NESTLEIND", "Nestle India"},
	{140033, "ASIANPAINT", "Asian Paints"},
	{1346049, "INDUSINDBK", "IndusInd Bank"},
	{3001089, "JSWSTEEL", "JSW Steel"},
	{348929, "HDFCLIFE", "HDFC Life Insurance"},
	{60417, "ADANIENT", "Adani Enterprises"},
	{3771393, "ADANIPORTS", "Adani Ports and SEZ"},
	{2585345, "GRASIM", "Grasim Industries"},
	{1152769, "TECHM", "Tech Mahindra"},
	{519937, "M&M", "Mahindra & Mahindra"},
	{2170625, "COALINDIA", "Coal India"},
	{579329, "CIPLA", "Cipla"},
	{225537, "DRREDDY", "Dr Reddys Laboratories"},
	{1195009, "EICHERMOT", "Eicher Motors"},
	{3050241, "SBILIFE", "SBI Life Insurance"},
	{4598529, "HEROMOTOCO", "Hero MotoCorp"},
	{3924993, "BRITANNIA", "Britannia Industries"},
	{4632577, "DIVISLAB", "Divis Laboratories"},
	{4451329, "APOLLOHOSP", "Apollo Hospitals"},
	{2031617, "BAJAJ-AUTO", "Bajaj Auto"},
	{54273, "TATACONSUM", "Tata Consumer Products"},
	{4561409, "LTIM", "LTIMindtree"},
	{2955009, "HINDALCO", "Hindalco Industries"},
	{975873, "UPL", "UPL"},
	{877057, "BPCL", "Bharat Petroleum"},
}

var builtinIndices = []builtinInstrument{
	{256265, "NIFTY 50", "Nifty 50 Index"},
	{260105, "NIFTY BANK", "Nifty Bank Index"},
}
