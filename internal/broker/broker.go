// Package broker defines the port every broker adapter implements, the
// failure taxonomy shared by its callers, and the two concrete adapters:
// the Zerodha Kite Connect live adapter and the deterministic paper
// simulator. Policy (retry, circuit breaking, request pacing) wraps the
// port in this package too, so call sites stay policy-free.
package broker

import (
	"context"
	"time"

	"github.com/tradekar/tradekar/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Broker Port
// ════════════════════════════════════════════════════════════════════

// Broker is the capability set every adapter exposes. All blocking calls
// take a context and respect its deadline.
type Broker interface {
	// Name returns the adapter name ("paper", "zerodha").
	Name() string

	// --- Session ---

	// Connect establishes an authenticated session. Idempotent: connecting
	// an already-connected adapter keeps the existing session.
	Connect(ctx context.Context, cred models.Credential) error

	// Disconnect tears down the session. Safe to call after a failed Connect.
	Disconnect(ctx context.Context) error

	// IsConnected is cheap and non-blocking.
	IsConnected() bool

	// --- Account ---

	// AccountSnapshot returns the broker-reported funds picture.
	AccountSnapshot(ctx context.Context) (models.AccountSnapshot, error)

	// --- Market data ---

	// Quote returns a fresh quote; quotes older than one polling interval
	// surface ErrStaleQuote.
	Quote(ctx context.Context, inst models.Instrument) (models.Quote, error)

	// HistoricalBars returns bars in ascending time order. The final bar is
	// flagged Partial when `to` falls inside the current unclosed interval.
	HistoricalBars(ctx context.Context, inst models.Instrument, tf models.Timeframe, from, to time.Time) ([]models.Bar, error)

	// --- Orders ---

	// PlaceOrder submits an intent and returns the broker order id. The
	// return is an acknowledgement, not a fill.
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error)

	// ModifyOrder updates a resting order. Terminal orders return
	// ErrAlreadyTerminal.
	ModifyOrder(ctx context.Context, orderID string, changes models.OrderChanges) error

	// CancelOrder cancels a resting order. Terminal orders return
	// ErrAlreadyTerminal.
	CancelOrder(ctx context.Context, orderID string) error

	// --- Snapshots ---

	Positions(ctx context.Context) ([]models.Position, error)
	Orders(ctx context.Context) ([]models.Order, error)
	Trades(ctx context.Context, since time.Time) ([]models.Trade, error)
}

// ════════════════════════════════════════════════════════════════════
// Event Sink
// ════════════════════════════════════════════════════════════════════

// EventSink receives operational events from adapters. Adapters hold this
// narrow capability instead of a reference to the activity log.
type EventSink interface {
	Emit(a models.Activity)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(a models.Activity)

// Emit calls f(a).
func (f EventSinkFunc) Emit(a models.Activity) { f(a) }

// NopSink discards events; adapters fall back to it when no sink is wired.
var NopSink EventSink = EventSinkFunc(func(models.Activity) {})

// ════════════════════════════════════════════════════════════════════
// Broker Descriptors
// ════════════════════════════════════════════════════════════════════

// CredentialField describes one input the control plane must collect to
// connect a broker.
type CredentialField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Secret   bool   `json:"secret"`
	Required bool   `json:"required"`
}

// Descriptor describes a supported broker to the control plane.
type Descriptor struct {
	Name             string            `json:"name"`
	DisplayName      string            `json:"display_name"`
	RequiresOAuth    bool              `json:"requires_oauth"`
	CredentialFields []CredentialField `json:"credential_fields"`
}

// Supported lists the brokers this build ships with.
func Supported() []Descriptor {
	return []Descriptor{
		{
			Name:          "paper",
			DisplayName:   "Paper Trading",
			RequiresOAuth: false,
			CredentialFields: []CredentialField{
				{Name: "starting_balance", Label: "Starting Balance (₹)", Secret: false, Required: false},
			},
		},
		{
			Name:          "zerodha",
			DisplayName:   "Zerodha Kite",
			RequiresOAuth: true,
			CredentialFields: []CredentialField{
				{Name: "api_key", Label: "API Key", Secret: false, Required: true},
				{Name: "api_secret", Label: "API Secret", Secret: true, Required: true},
			},
		},
	}
}

// IsSupported reports whether name is a known broker.
func IsSupported(name string) bool {
	for _, d := range Supported() {
		if d.Name == name {
			return true
		}
	}
	return false
}
