package utils

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"RELIANCE", "RELIANCE"},
		{"reliance", "RELIANCE"},
		{" reliance ", "RELIANCE"},
		{"RIL", "RELIANCE"},
		{"INFOSYS", "INFY"},
		{"HUL", "HINDUNILVR"},
		{"SBI", "SBIN"},
		{"AIRTEL", "BHARTIARTL"},
		{"NIFTY", "NIFTY 50"},
		{"BANKNIFTY", "NIFTY BANK"},
		{"UNKNOWNSTOCK", "UNKNOWNSTOCK"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeSymbol(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestIsIndexSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"NIFTY", true},
		{"NIFTY 50", true},
		{"banknifty", true},
		{"SENSEX", true},
		{"RELIANCE", false},
		{"SBI", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsIndexSymbol(tt.input); got != tt.expected {
				t.Errorf("IsIndexSymbol(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
