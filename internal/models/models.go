package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecognitionEvent is one transcript fragment from the recognizer.
// Consumed once, never mutated.
type RecognitionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Final      bool      `json:"final"` // partial vs finalized utterance
}

// TradeStatus is the terminal outcome of a dispatched trade request.
type TradeStatus string

const (
	StatusSubmitted TradeStatus = "SUBMITTED" // venue accepted the order
	StatusConfirmed TradeStatus = "CONFIRMED" // venue reported a fill
	StatusTimeout   TradeStatus = "TIMEOUT"   // deadline hit before acceptance
	StatusFailed    TradeStatus = "FAILED"    // retries exhausted or non-retryable
)

// TradeRequest is an order instruction built from a fired rule.
type TradeRequest struct {
	ID          string          `json:"id"`
	MarketID    string          `json:"market_id"`
	TokenID     string          `json:"token_id"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	NotionalUSD decimal.Decimal `json:"notional_usd"`
	CreatedAt   time.Time       `json:"created_at"`

	// Confirmed marks requests approved through the external confirmation
	// gate. Requests start unconfirmed; the guard only checks this when the
	// global confirmation setting is on.
	Confirmed bool `json:"-"`
}

// TradeResult pairs a request with its terminal outcome.
type TradeResult struct {
	Request      TradeRequest `json:"request"`
	Status       TradeStatus  `json:"status"`
	OrderID      string       `json:"order_id,omitempty"`
	AttemptCount int          `json:"attempt_count"`
	Error        string       `json:"error,omitempty"`
}

// DetectionRecord is an immutable snapshot written once per keyword detection.
type DetectionRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	MarketID   string    `json:"market_id"`
	Text       string    `json:"text"`
	Keywords   []string  `json:"keywords"`
	Confidence float64   `json:"confidence"`
	Fired      bool      `json:"fired"`
}

// TradeRecord is an immutable snapshot written once per terminal trade outcome,
// admitted or rejected, so every fire is auditable.
type TradeRecord struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	MarketID     string          `json:"market_id"`
	TokenID      string          `json:"token_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	NotionalUSD  decimal.Decimal `json:"notional_usd"`
	Status       string          `json:"status"` // TradeStatus or guard reject reason
	OrderID      string          `json:"order_id,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	Error        string          `json:"error,omitempty"`
	LatencyMS    int64           `json:"latency_ms"`
}
