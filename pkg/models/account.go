package models

import "time"

// AccountSnapshot is the broker-reported funds picture at one instant.
type AccountSnapshot struct {
	Equity           float64   `json:"equity"`
	CashAvailable    float64   `json:"cash_available"`
	MarginUsed       float64   `json:"margin_used"`
	MarginAvailable  float64   `json:"margin_available"`
	RealizedPnLToday float64   `json:"realized_pnl_today"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	Currency         string    `json:"currency"`
	Timestamp        time.Time `json:"timestamp"`
}

// Credential is a per-broker secret bundle. It exists in plaintext only in
// memory; the vault persists it encrypted and nothing else writes it to disk.
type Credential struct {
	Broker      string            `json:"broker"`
	APIKey      string            `json:"api_key"`
	APISecret   string            `json:"api_secret"`
	AccessToken string            `json:"access_token,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// HasAccessToken reports whether a usable (present and unexpired) access
// token is attached.
func (c Credential) HasAccessToken(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	return true
}
