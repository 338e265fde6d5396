package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"phrase_trading/internal/clob"
	"phrase_trading/internal/config"
	"phrase_trading/internal/dispatch"
	"phrase_trading/internal/guard"
	"phrase_trading/internal/models"
	"phrase_trading/internal/storage"
	"phrase_trading/internal/telegram"
	"phrase_trading/internal/trigger"

	"github.com/shopspring/decimal"
)

// FakePlacer scripts order placement outcomes.
type FakePlacer struct {
	mu     sync.Mutex
	placed []models.TradeRequest
	err    error
	delay  time.Duration
}

func (f *FakePlacer) PlaceOrder(ctx context.Context, req models.TradeRequest) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.placed = append(f.placed, req)
	return fmt.Sprintf("ord-%d", len(f.placed)), nil
}

func (f *FakePlacer) Placed() []models.TradeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TradeRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

// SpyRecorder captures records.
type SpyRecorder struct {
	mu         sync.Mutex
	detections []models.DetectionRecord
	trades     []models.TradeRecord
}

func (s *SpyRecorder) RecordDetection(rec models.DetectionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, rec)
}
func (s *SpyRecorder) RecordTrade(rec models.TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rec)
}
func (s *SpyRecorder) Close() error { return nil }
func (s *SpyRecorder) Detections() []models.DetectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DetectionRecord, len(s.detections))
	copy(out, s.detections)
	return out
}
func (s *SpyRecorder) Trades() []models.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

type fixture struct {
	pipeline *Pipeline
	placer   *FakePlacer
	recorder *SpyRecorder
	events   chan models.RecognitionEvent
	done     chan error
}

func newFixture(t *testing.T, cfg *config.Settings, rules []models.MarketRule) *fixture {
	t.Helper()

	// Guard persistence writes the state file into the working directory.
	tmpDir := t.TempDir()
	originalWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(originalWd) })

	if cfg.DayLoc == nil {
		cfg.DayLoc = time.UTC
	}
	rs, err := models.NewRuleSet(rules)
	if err != nil {
		t.Fatalf("NewRuleSet failed: %v", err)
	}

	engine := trigger.New(rs, cfg.PreventDuplicateTrades)
	g := guard.New(rs, guard.Options{
		PreventDuplicates:   cfg.PreventDuplicateTrades,
		RequireConfirmation: cfg.RequireConfirmation,
		MaxDailyVolume:      cfg.MaxDailyVolumeUSD(),
		DayLoc:              cfg.DayLoc,
	}, storage.TraderState{})

	placer := &FakePlacer{}
	rec := &SpyRecorder{}
	d := dispatch.New(placer, g, rec, cfg.OrderTimeout())

	p := New(cfg, rs, engine, g, d, rec)

	return &fixture{
		pipeline: p,
		placer:   placer,
		recorder: rec,
		events:   make(chan models.RecognitionEvent, 16),
		done:     make(chan error, 1),
	}
}

func (f *fixture) start(ctx context.Context) {
	go func() { f.done <- f.pipeline.Run(ctx, f.events) }()
}

func (f *fixture) finish(t *testing.T) error {
	t.Helper()
	close(f.events)
	select {
	case err := <-f.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Pipeline did not stop")
		return nil
	}
}

func cryptoRule() models.MarketRule {
	return models.MarketRule{
		MarketID:      "crypto_market",
		TokenID:       "tok1",
		Keywords:      []string{"bitcoin", "crypto"},
		TriggerType:   models.TriggerAny,
		MatchMode:     models.MatchFuzzy,
		Side:          models.SideBuy,
		Price:         decimal.NewFromFloat(0.9),
		Size:          decimal.NewFromInt(432),
		MinConfidence: 0.7,
	}
}

func dogeRule() models.MarketRule {
	return models.MarketRule{
		MarketID:      "doge_market",
		TokenID:       "tok2",
		Keywords:      []string{"dogecoin", "doge"},
		TriggerType:   models.TriggerAny,
		MatchMode:     models.MatchFuzzy,
		Side:          models.SideBuy,
		Price:         decimal.NewFromFloat(0.5),
		Size:          decimal.NewFromInt(780),
		MinConfidence: 0.7,
	}
}

func event(text string, conf float64) models.RecognitionEvent {
	return models.RecognitionEvent{Timestamp: time.Now(), Text: text, Confidence: conf, Final: true}
}

func baseSettings() *config.Settings {
	return &config.Settings{
		PreventDuplicateTrades: true,
		MaxDailyVolume:         5000,
		OrderTimeoutSec:        2,
		MinConfidence:          0.7,
		ConfirmationTTLSec:     300,
		DayLoc:                 time.UTC,
	}
}

func TestRun_AnyRuleFiresAndTrades(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	f.events <- event("they mentioned crypto today", 0.8)

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	placed := f.placer.Placed()
	if len(placed) != 1 {
		t.Fatalf("Expected 1 order, got %d", len(placed))
	}
	if placed[0].MarketID != "crypto_market" {
		t.Errorf("Wrong market: %s", placed[0].MarketID)
	}

	dets := f.recorder.Detections()
	if len(dets) != 1 || !dets[0].Fired || dets[0].Keywords[0] != "crypto" {
		t.Errorf("Detection record mismatch: %+v", dets)
	}

	trades := f.recorder.Trades()
	if len(trades) != 1 || trades[0].Status != "SUBMITTED" {
		t.Errorf("Trade record mismatch: %+v", trades)
	}
}

func TestRun_AllRuleAcrossEvents(t *testing.T) {
	r := cryptoRule()
	r.TriggerType = models.TriggerAll
	f := newFixture(t, baseSettings(), []models.MarketRule{r})
	f.start(context.Background())

	f.events <- event("crypto mentioned", 0.8)   // partial: only crypto
	f.events <- event("and now bitcoin too", 0.8) // completes the set

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := len(f.placer.Placed()); n != 1 {
		t.Fatalf("Expected 1 order after both keywords, got %d", n)
	}
	dets := f.recorder.Detections()
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detection records, got %d", len(dets))
	}
	if dets[0].Fired || !dets[1].Fired {
		t.Errorf("Expected fire on second detection only: %+v", dets)
	}
}

func TestRun_DuplicatePreventionOneTradePerMarket(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	for i := 0; i < 5; i++ {
		f.events <- event("crypto crypto crypto", 0.9)
	}

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(f.placer.Placed()); n != 1 {
		t.Errorf("Expected exactly 1 order with duplicate prevention, got %d", n)
	}
}

func TestRun_LowConfidenceIgnored(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	f.events <- event("crypto!", 0.5) // below 0.7 floor

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(f.placer.Placed()); n != 0 {
		t.Errorf("Low-confidence event produced %d orders", n)
	}
}

func TestRun_PartialEventsSkipped(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	ev := event("crypto", 0.9)
	ev.Final = false
	f.events <- ev

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(f.placer.Placed()); n != 0 {
		t.Errorf("Partial event produced %d orders", n)
	}
}

func TestRun_SlowDispatchDoesNotBlockOtherMarkets(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule(), dogeRule()})
	f.placer.delay = 300 * time.Millisecond
	f.start(context.Background())

	start := time.Now()
	// Both markets fire on one event; dispatches run concurrently.
	f.events <- event("crypto and doge at once", 0.9)

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	elapsed := time.Since(start)

	if n := len(f.placer.Placed()); n != 2 {
		t.Fatalf("Expected 2 orders, got %d", n)
	}
	// Serialized dispatch would need >= 600ms.
	if elapsed > 550*time.Millisecond {
		t.Errorf("Dispatches appear serialized: took %s", elapsed)
	}
}

func TestRun_ConfirmationFlow(t *testing.T) {
	cfg := baseSettings()
	cfg.RequireConfirmation = true
	f := newFixture(t, cfg, []models.MarketRule{cryptoRule()})

	var prompted []string
	f.pipeline.SetNotifier(nil, func(text string, buttons []telegram.Button) {
		prompted = append(prompted, buttons[0].CallbackData)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.start(ctx)

	f.events <- event("crypto spotted", 0.9)

	// Wait for the proposal to be parked.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.pipeline.pendingMu.Lock()
		n := len(f.pipeline.pending)
		f.pipeline.pendingMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Proposal was never parked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(f.placer.Placed()); n != 0 {
		t.Fatalf("Order placed before confirmation: %d", n)
	}

	reply := f.pipeline.HandleCallback("CONFIRM_TRADE_crypto_market")
	if reply == "" {
		t.Error("Expected a confirmation reply")
	}

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(f.placer.Placed()); n != 1 {
		t.Errorf("Expected 1 order after confirmation, got %d", n)
	}
	if len(prompted) != 1 || prompted[0] != "CONFIRM_TRADE_crypto_market" {
		t.Errorf("Prompt mismatch: %v", prompted)
	}
}

func TestRun_FatalAuthErrorHaltsPipeline(t *testing.T) {
	f := newFixture(t, baseSettings(), []models.MarketRule{cryptoRule()})
	f.placer.err = fmt.Errorf("%w: status 401", clob.ErrAuth)
	f.start(context.Background())

	f.events <- event("crypto now", 0.9)

	err := f.finish(t)
	if err == nil {
		t.Fatal("Expected Run to surface the fatal auth error")
	}
	if !clob.IsFatal(err) {
		t.Errorf("Expected fatal classification, got %v", err)
	}
}

func TestSlippagePaddedLimitPrice(t *testing.T) {
	cfg := baseSettings()
	cfg.SlippageTolerancePct = 0.5
	f := newFixture(t, cfg, []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	f.events <- event("crypto detected", 0.9)

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	placed := f.placer.Placed()
	if len(placed) != 1 {
		t.Fatalf("Expected 1 order, got %d", len(placed))
	}
	// 0.9 padded by 0.5% for a BUY.
	want := decimal.NewFromFloat(0.9045)
	if !placed[0].Price.Equal(want) {
		t.Errorf("Expected padded limit %s, got %s", want, placed[0].Price)
	}
	if !placed[0].NotionalUSD.Equal(want.Mul(decimal.NewFromInt(432))) {
		t.Errorf("Notional not computed from padded price: %s", placed[0].NotionalUSD)
	}
}

func TestLimitWithSlippageClamped(t *testing.T) {
	buy := limitWithSlippage(models.SideBuy, decimal.NewFromFloat(0.998), 1.0)
	if !buy.Equal(decimal.NewFromFloat(0.999)) {
		t.Errorf("Expected BUY clamp at 0.999, got %s", buy)
	}
	sell := limitWithSlippage(models.SideSell, decimal.NewFromFloat(0.001), 2.0)
	if !sell.Equal(decimal.NewFromFloat(0.001)) {
		t.Errorf("Expected SELL clamp at 0.001, got %s", sell)
	}
	unchanged := limitWithSlippage(models.SideBuy, decimal.NewFromFloat(0.5), 0)
	if !unchanged.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("Expected zero tolerance to pass price through, got %s", unchanged)
	}
}

func TestRun_CancelledConfirmationRecorded(t *testing.T) {
	cfg := baseSettings()
	cfg.RequireConfirmation = true
	f := newFixture(t, cfg, []models.MarketRule{cryptoRule()})
	f.start(context.Background())

	f.events <- event("crypto spotted", 0.9)

	deadline := time.Now().Add(2 * time.Second)
	for {
		f.pipeline.pendingMu.Lock()
		n := len(f.pipeline.pending)
		f.pipeline.pendingMu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Proposal was never parked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.pipeline.HandleCallback("CANCEL_TRADE_crypto_market")

	if err := f.finish(t); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if n := len(f.placer.Placed()); n != 0 {
		t.Errorf("Cancelled trade was placed: %d", n)
	}
	trades := f.recorder.Trades()
	if len(trades) != 1 || trades[0].Status != "CANCELLED" {
		t.Errorf("Expected one CANCELLED record, got %+v", trades)
	}
}
