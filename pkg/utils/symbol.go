package utils

import (
	"strings"
)

// Common NSE symbol aliases and normalizations.
var symbolAliases = map[string]string{
	"RELIANCE":      "RELIANCE",
	"RIL":           "RELIANCE",
	"TCS":           "TCS",
	"INFOSYS":       "INFY",
	"INFY":          "INFY",
	"HDFCBANK":      "HDFCBANK",
	"HDFC BANK":     "HDFCBANK",
	"ICICIBANK":     "ICICIBANK",
	"ICICI BANK":    "ICICIBANK",
	"SBIN":          "SBIN",
	"SBI":           "SBIN",
	"BHARTIARTL":    "BHARTIARTL",
	"AIRTEL":        "BHARTIARTL",
	"BAJFINANCE":    "BAJFINANCE",
	"BAJAJ FIN":     "BAJFINANCE",
	"ITC":           "ITC",
	"LT":            "LT",
	"L&T":           "LT",
	"TATAMOTORS":    "TATAMOTORS",
	"TATA MOTORS":   "TATAMOTORS",
	"TATASTEEL":     "TATASTEEL",
	"TATA STEEL":    "TATASTEEL",
	"WIPRO":         "WIPRO",
	"HCLTECH":       "HCLTECH",
	"HCL TECH":      "HCLTECH",
	"MARUTI":        "MARUTI",
	"KOTAKBANK":     "KOTAKBANK",
	"KOTAK":         "KOTAKBANK",
	"AXISBANK":      "AXISBANK",
	"AXIS BANK":     "AXISBANK",
	"SUNPHARMA":     "SUNPHARMA",
	"SUN PHARMA":    "SUNPHARMA",
	"ASIANPAINT":    "ASIANPAINT",
	"ASIAN PAINTS":  "ASIANPAINT",
	"TITAN":         "TITAN",
	"NESTLEIND":     "NESTLEIND",
	"NESTLE":        "NESTLEIND",
	"ULTRACEMCO":    "ULTRACEMCO",
	"ULTRATECH":     "ULTRACEMCO",
	"POWERGRID":     "POWERGRID",
	"NTPC":          "NTPC",
	"TECHM":         "TECHM",
	"TECH MAHINDRA": "TECHM",
	"M&M":           "M&M",
	"MAHINDRA":      "M&M",
	"ADANIENT":      "ADANIENT",
	"ADANI":         "ADANIENT",
	"HINDUNILVR":    "HINDUNILVR",
	"HUL":           "HINDUNILVR",
	"DRREDDY":       "DRREDDY",
	"CIPLA":         "CIPLA",
	"COALINDIA":     "COALINDIA",
	"COAL INDIA":    "COALINDIA",
	"ONGC":          "ONGC",
	"IOC":           "IOC",
	"BPCL":          "BPCL",
}

// NSE index symbols.
var indexSymbols = map[string]string{
	"NIFTY":       "NIFTY 50",
	"NIFTY50":     "NIFTY 50",
	"NIFTY 50":    "NIFTY 50",
	"BANKNIFTY":   "NIFTY BANK",
	"NIFTYBANK":   "NIFTY BANK",
	"NIFTY BANK":  "NIFTY BANK",
	"FINNIFTY":    "NIFTY FIN SERVICE",
	"NIFTYIT":     "NIFTY IT",
	"NIFTY IT":    "NIFTY IT",
	"NIFTYMIDCAP": "NIFTY MIDCAP 50",
	"SENSEX":      "SENSEX",
}

// NormalizeSymbol normalizes a user-input trading symbol to the canonical
// NSE format. It handles aliases, uppercasing, and whitespace.
func NormalizeSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	if idx, ok := indexSymbols[symbol]; ok {
		return idx
	}

	if canonical, ok := symbolAliases[symbol]; ok {
		return canonical
	}

	return symbol
}

// IsIndexSymbol checks if the symbol names an index (not a stock).
func IsIndexSymbol(symbol string) bool {
	symbol = NormalizeSymbol(symbol)
	if _, ok := indexSymbols[symbol]; ok {
		return true
	}
	for _, v := range indexSymbols {
		if v == symbol {
			return true
		}
	}
	return false
}
