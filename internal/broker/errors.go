package broker

import (
	"errors"
	"fmt"
)

// Kind classifies a broker-facing failure. Policy layers branch on Kind:
// retry wraps only the transient kinds, the control plane maps kinds to
// HTTP statuses, and the supervisor downgrades per-instrument failures to
// skipped ticks.
type Kind int

const (
	KindInternal Kind = iota // programmer error / broken invariant
	KindValidation
	KindAuth
	KindNetwork
	KindVendorUnavailable
	KindRateLimited
	KindStateConflict
	KindNotFound
	KindRiskRejection
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindVendorUnavailable:
		return "vendor-unavailable"
	case KindRateLimited:
		return "rate-limited"
	case KindStateConflict:
		return "state-conflict"
	case KindNotFound:
		return "not-found"
	case KindRiskRejection:
		return "risk-rejection"
	default:
		return "internal"
	}
}

// Error is a classified broker failure.
type Error struct {
	Kind    Kind
	Op      string // e.g., "zerodha.place_order"
	Message string
	Field   string // populated for validation failures
	Err     error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets sentinel comparisons match on kind+message equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || e.Message == t.Message)
}

// E builds a classified error.
func E(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: kind.String(), Err: err}
}

// KindOf extracts the Kind from any error chain. Unclassified errors are
// Internal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error is transient and worth another
// attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindVendorUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Sentinel errors shared across adapters.
var (
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = &Error{Kind: KindStateConflict, Message: "broker not connected"}

	// ErrOrderNotFound is returned when an order id is unknown to the broker.
	ErrOrderNotFound = &Error{Kind: KindNotFound, Message: "order not found"}

	// ErrAlreadyTerminal is returned when cancelling or modifying an order
	// that already reached a terminal state. Callers that only need
	// terminality treat it as success.
	ErrAlreadyTerminal = &Error{Kind: KindStateConflict, Message: "order already in terminal state"}

	// ErrInsufficientMargin is returned when free margin cannot carry the order.
	ErrInsufficientMargin = &Error{Kind: KindRiskRejection, Message: "insufficient margin"}

	// ErrStaleQuote is returned when the freshest available quote is older
	// than one polling interval.
	ErrStaleQuote = &Error{Kind: KindVendorUnavailable, Message: "quote is stale"}

	// ErrTokenExpired is returned on any call after the daily access token
	// lapsed; the session needs operator re-authentication.
	ErrTokenExpired = &Error{Kind: KindAuth, Message: "access token expired"}
)
