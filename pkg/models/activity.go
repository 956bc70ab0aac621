package models

import "time"

// ActivityKind classifies an operational event.
type ActivityKind string

const (
	ActivityAnalysis ActivityKind = "analysis"
	ActivitySignal   ActivityKind = "signal"
	ActivityOrder    ActivityKind = "order"
	ActivityPosition ActivityKind = "position"
	ActivityWarning  ActivityKind = "warning"
	ActivityError    ActivityKind = "error"
)

// ActivityLevel is the severity shown to the operator.
type ActivityLevel string

const (
	LevelInfo    ActivityLevel = "info"
	LevelSuccess ActivityLevel = "success"
	LevelWarning ActivityLevel = "warning"
	LevelError   ActivityLevel = "error"
)

// Activity is a typed operational event surfaced to the operator.
// Activities live in a bounded in-memory ring; they are an operator aid,
// not a record of truth.
type Activity struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      ActivityKind   `json:"kind"`
	Level     ActivityLevel  `json:"level"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}
