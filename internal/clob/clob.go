package clob

import (
	"context"
	"errors"
	"fmt"

	"phrase_trading/internal/models"
)

// OrderPlacer is the interface to the trading venue. Any struct that
// implements it satisfies the interface, which lets us swap the real CLOB
// client for a mock in tests without changing the dispatcher.
type OrderPlacer interface {
	// PlaceOrder submits a limit order and returns the venue order ID on
	// acceptance. The context deadline is the caller's hard timeout.
	PlaceOrder(ctx context.Context, req models.TradeRequest) (string, error)
}

// ErrAuth marks authentication/authorization failures with the venue. These
// are fatal: the pipeline halts rather than silently dropping trades.
var ErrAuth = errors.New("clob: authentication failed")

// TransportError wraps a venue or network failure and records whether a
// retry could plausibly succeed.
type TransportError struct {
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("clob: %s transport error: %v", kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether the dispatcher should retry after this error.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// IsFatal reports whether this error must halt the pipeline.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}
