package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"phrase_trading/internal/clob"
	"phrase_trading/internal/models"

	"github.com/shopspring/decimal"
)

// FakePlacer scripts PlaceOrder outcomes per attempt.
type FakePlacer struct {
	mu       sync.Mutex
	attempts int
	script   []error // error per attempt; nil means success
	delay    time.Duration
}

func (f *FakePlacer) PlaceOrder(ctx context.Context, req models.TradeRequest) (string, error) {
	f.mu.Lock()
	idx := f.attempts
	f.attempts++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if idx < len(f.script) && f.script[idx] != nil {
		return "", f.script[idx]
	}
	return fmt.Sprintf("ord-%d", idx+1), nil
}

func (f *FakePlacer) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// SpyReservations counts rollbacks.
type SpyReservations struct {
	mu        sync.Mutex
	rollbacks []models.TradeRequest
}

func (s *SpyReservations) Rollback(req models.TradeRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks = append(s.rollbacks, req)
}

func (s *SpyReservations) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rollbacks)
}

// SpyRecorder captures trade records.
type SpyRecorder struct {
	mu     sync.Mutex
	trades []models.TradeRecord
}

func (s *SpyRecorder) RecordDetection(models.DetectionRecord) {}
func (s *SpyRecorder) RecordTrade(rec models.TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rec)
}
func (s *SpyRecorder) Close() error { return nil }
func (s *SpyRecorder) Trades() []models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

func testReq() models.TradeRequest {
	return models.TradeRequest{
		ID:          "req-1",
		MarketID:    "crypto_market",
		TokenID:     "tok1",
		Side:        models.SideBuy,
		Price:       decimal.NewFromFloat(0.9),
		Size:        decimal.NewFromInt(432),
		NotionalUSD: decimal.NewFromFloat(388.8),
		CreatedAt:   time.Now(),
	}
}

func newTestDispatcher(placer clob.OrderPlacer, res *SpyReservations, rec *SpyRecorder, timeout time.Duration) *Dispatcher {
	d := New(placer, res, rec, timeout)
	d.backoffBase = time.Millisecond
	return d
}

func TestSubmit_Success(t *testing.T) {
	placer := &FakePlacer{}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, time.Second)

	result, err := d.Submit(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Status != models.StatusSubmitted {
		t.Errorf("Expected SUBMITTED, got %s", result.Status)
	}
	if result.OrderID != "ord-1" {
		t.Errorf("Expected ord-1, got %s", result.OrderID)
	}
	if res.Count() != 0 {
		t.Error("Successful dispatch must keep the reservation")
	}
	if n := len(rec.Trades()); n != 1 {
		t.Errorf("Expected exactly 1 trade record, got %d", n)
	}
}

func TestSubmit_TimeoutRollsBack(t *testing.T) {
	placer := &FakePlacer{delay: 500 * time.Millisecond}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, 30*time.Millisecond)

	result, err := d.Submit(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Timeout must not surface as error: %v", err)
	}
	if result.Status != models.StatusTimeout {
		t.Errorf("Expected TIMEOUT, got %s", result.Status)
	}
	if res.Count() != 1 {
		t.Errorf("Expected 1 rollback, got %d", res.Count())
	}
	trades := rec.Trades()
	if len(trades) != 1 || trades[0].Status != "TIMEOUT" {
		t.Errorf("Expected exactly one TIMEOUT record, got %v", trades)
	}
}

func TestSubmit_RetriesTransientThenSucceeds(t *testing.T) {
	transient := &clob.TransportError{Retryable: true, Err: fmt.Errorf("status 502")}
	placer := &FakePlacer{script: []error{transient, transient, nil}}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, time.Second)

	result, err := d.Submit(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.Status != models.StatusSubmitted {
		t.Errorf("Expected SUBMITTED after retries, got %s (%s)", result.Status, result.Error)
	}
	if result.AttemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.AttemptCount)
	}
	if res.Count() != 0 {
		t.Error("Reservation must be kept after eventual success")
	}
}

func TestSubmit_RetryExhaustionFails(t *testing.T) {
	transient := &clob.TransportError{Retryable: true, Err: fmt.Errorf("status 503")}
	placer := &FakePlacer{script: []error{transient, transient, transient}}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, time.Second)

	result, err := d.Submit(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Exhaustion must not surface as error: %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Expected FAILED, got %s", result.Status)
	}
	if placer.Attempts() != 3 {
		t.Errorf("Expected 3 attempts, got %d", placer.Attempts())
	}
	if res.Count() != 1 {
		t.Errorf("Expected rollback on exhaustion, got %d", res.Count())
	}
}

func TestSubmit_PermanentErrorNoRetry(t *testing.T) {
	permanent := &clob.TransportError{Retryable: false, Err: fmt.Errorf("status 400")}
	placer := &FakePlacer{script: []error{permanent}}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, time.Second)

	result, _ := d.Submit(context.Background(), testReq())
	if result.Status != models.StatusFailed {
		t.Errorf("Expected FAILED, got %s", result.Status)
	}
	if placer.Attempts() != 1 {
		t.Errorf("Permanent error must not be retried, got %d attempts", placer.Attempts())
	}
}

func TestSubmit_AuthErrorFatal(t *testing.T) {
	placer := &FakePlacer{script: []error{fmt.Errorf("%w: status 401", clob.ErrAuth)}}
	res := &SpyReservations{}
	rec := &SpyRecorder{}
	d := newTestDispatcher(placer, res, rec, time.Second)

	result, err := d.Submit(context.Background(), testReq())
	if err == nil {
		t.Fatal("Auth failure must surface as fatal error")
	}
	if !clob.IsFatal(err) {
		t.Errorf("Expected fatal classification, got %v", err)
	}
	if result.Status != models.StatusFailed {
		t.Errorf("Expected FAILED, got %s", result.Status)
	}
	if res.Count() != 1 {
		t.Error("Reservation must be rolled back on fatal failure")
	}
	if n := len(rec.Trades()); n != 1 {
		t.Errorf("Expected exactly 1 record, got %d", n)
	}
}
