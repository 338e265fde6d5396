// Package dispatch turns an admitted trade request into an order submission
// with a hard deadline, bounded retries and guaranteed cleanup.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"phrase_trading/internal/clob"
	"phrase_trading/internal/models"
	"phrase_trading/internal/recorder"

	"github.com/google/uuid"
)

// Reservations is the slice of the trade guard the dispatcher needs: undoing
// a reservation after a failed or timed-out submission.
type Reservations interface {
	Rollback(req models.TradeRequest)
}

// Dispatcher submits admitted requests to the venue.
type Dispatcher struct {
	placer   clob.OrderPlacer
	reserved Reservations
	rec      recorder.Recorder

	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(placer clob.OrderPlacer, reserved Reservations, rec recorder.Recorder, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		placer:      placer,
		reserved:    reserved,
		rec:         rec,
		timeout:     timeout,
		maxAttempts: 3,
		backoffBase: 500 * time.Millisecond,
		sleep:       sleepCtx,
	}
}

// Submit places the order under the configured deadline. Transient transport
// errors are retried with exponential backoff; a deadline hit is TIMEOUT, an
// exhausted or permanent failure is FAILED, and both roll back the guard
// reservation. Exactly one trade record is emitted per terminal outcome.
//
// The returned error is non-nil only for fatal collaborator failures
// (authentication); everything else is resolved locally in the TradeResult.
func (d *Dispatcher) Submit(ctx context.Context, req models.TradeRequest) (models.TradeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := models.TradeResult{Request: req}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		result.AttemptCount = attempt

		orderID, err := d.placer.PlaceOrder(ctx, req)
		if err == nil {
			// The venue only guarantees acceptance, not fill.
			result.Status = models.StatusSubmitted
			result.OrderID = orderID
			d.record(result)
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			result.Status = models.StatusTimeout
			result.Error = fmt.Sprintf("deadline %s exceeded", d.timeout)
			d.finishFailed(result)
			return result, nil
		}

		if clob.IsFatal(err) {
			result.Status = models.StatusFailed
			result.Error = err.Error()
			d.finishFailed(result)
			return result, err
		}

		if !clob.IsRetryable(err) || attempt == d.maxAttempts {
			break
		}

		backoff := d.backoffBase * (1 << (attempt - 1))
		log.Printf("[%s] Transient order error (attempt %d/%d), retrying in %s: %v",
			req.MarketID, attempt, d.maxAttempts, backoff, err)
		if err := d.sleep(ctx, backoff); err != nil {
			result.Status = models.StatusTimeout
			result.Error = fmt.Sprintf("deadline %s exceeded during backoff", d.timeout)
			d.finishFailed(result)
			return result, nil
		}
	}

	result.Status = models.StatusFailed
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	d.finishFailed(result)
	return result, nil
}

// finishFailed is the guaranteed cleanup step: the reservation rollback and
// the terminal record must both happen even for cancelled dispatches.
func (d *Dispatcher) finishFailed(result models.TradeResult) {
	d.reserved.Rollback(result.Request)
	log.Printf("[%s] Dispatch %s after %d attempt(s): %s",
		result.Request.MarketID, result.Status, result.AttemptCount, result.Error)
	d.record(result)
}

func (d *Dispatcher) record(result models.TradeResult) {
	req := result.Request
	d.rec.RecordTrade(models.TradeRecord{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		MarketID:     req.MarketID,
		TokenID:      req.TokenID,
		Side:         req.Side,
		Price:        req.Price,
		Size:         req.Size,
		NotionalUSD:  req.NotionalUSD,
		Status:       string(result.Status),
		OrderID:      result.OrderID,
		AttemptCount: result.AttemptCount,
		Error:        result.Error,
		LatencyMS:    time.Since(req.CreatedAt).Milliseconds(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
