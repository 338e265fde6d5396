// Package pipeline wires the detection-to-trade flow: recognition events in,
// guarded trade submissions out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"phrase_trading/internal/config"
	"phrase_trading/internal/dispatch"
	"phrase_trading/internal/guard"
	"phrase_trading/internal/matcher"
	"phrase_trading/internal/models"
	"phrase_trading/internal/recorder"
	"phrase_trading/internal/telegram"
	"phrase_trading/internal/trigger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Pipeline consumes recognition events, evaluates every configured rule per
// event and hands fires to the guard and dispatcher. Rule evaluation is
// synchronous and cheap; dispatch runs as independent work so a slow order
// for one market never stalls detection for another.
type Pipeline struct {
	cfg        *config.Settings
	rules      *models.RuleSet
	engine     *trigger.Engine
	guard      *guard.Guard
	dispatcher *dispatch.Dispatcher
	rec        recorder.Recorder

	// Notification hooks, nil-safe. Wired to telegram in main.
	notify func(text string)
	prompt func(text string, buttons []telegram.Button)

	pendingMu sync.Mutex
	pending   map[string]pendingTrade // keyed by market ID

	// Dispatch group for the current Run, shared with HandleCallback so
	// confirmed trades go through the same bounded pool.
	runMu  sync.Mutex
	grp    *errgroup.Group
	runCtx context.Context

	startTime time.Time
}

// pendingTrade is a fire parked behind the confirmation gate.
type pendingTrade struct {
	Request   models.TradeRequest
	CreatedAt time.Time
}

func New(cfg *config.Settings, rules *models.RuleSet, engine *trigger.Engine,
	g *guard.Guard, d *dispatch.Dispatcher, rec recorder.Recorder) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		rules:      rules,
		engine:     engine,
		guard:      g,
		dispatcher: d,
		rec:        rec,
		pending:    make(map[string]pendingTrade),
		startTime:  time.Now(),
	}
}

// SetNotifier installs the alert and confirmation-prompt hooks.
func (p *Pipeline) SetNotifier(notify func(string), prompt func(string, []telegram.Button)) {
	p.notify = notify
	p.prompt = prompt
}

// Run drives the pipeline until the event stream closes, the context is
// cancelled or a fatal collaborator error surfaces. Dispatches run in a pool
// bounded by the number of configured markets.
func (p *Pipeline) Run(ctx context.Context, events <-chan models.RecognitionEvent) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(p.rules.Len())

	p.runMu.Lock()
	p.grp = grp
	p.runCtx = gctx
	p.runMu.Unlock()

	cleanup := time.NewTicker(30 * time.Second)
	defer cleanup.Stop()

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-cleanup.C:
			p.expirePending()
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			p.handleEvent(gctx, grp, ev)
		}
	}

	if err := grp.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// handleEvent evaluates every rule against one recognition event.
// Events with no usable text are recognition gaps, skipped silently;
// partial (non-final) fragments are not evaluated so a market cannot fire
// twice on the partial and the finalized form of one utterance.
func (p *Pipeline) handleEvent(ctx context.Context, grp *errgroup.Group, ev models.RecognitionEvent) {
	if !ev.Final || strings.TrimSpace(ev.Text) == "" {
		return
	}

	log.Printf("🎤 [%s] %q (conf %.2f)", ev.Timestamp.Format("15:04:05"), ev.Text, ev.Confidence)

	for _, rule := range p.rules.All() {
		matched := matcher.Match(rule, ev.Text)
		if len(matched) == 0 {
			continue
		}

		fire := p.engine.Update(rule.MarketID, ev, matched)

		p.rec.RecordDetection(models.DetectionRecord{
			ID:         uuid.NewString(),
			Timestamp:  ev.Timestamp,
			MarketID:   rule.MarketID,
			Text:       ev.Text,
			Keywords:   matched,
			Confidence: ev.Confidence,
			Fired:      fire == trigger.Fire,
		})

		if fire != trigger.Fire {
			continue
		}

		log.Printf("🚨 Trigger: %s (keywords: %v)", rule.MarketID, matched)
		p.sendNotify(fmt.Sprintf("🚨 *TRIGGER: %s*\nKeywords: %v\nContext: %q", rule.MarketID, matched, ev.Text))

		req := p.buildRequest(rule)
		p.admitAndDispatch(ctx, grp, req)
	}
}

// buildRequest turns a fired rule into an order instruction. The limit price
// gets a slippage allowance in the direction of the trade, so a book that
// moved slightly between detection and submission still fills, while the
// worst acceptable fill stays bounded. The notional reserved against the
// daily cap uses the padded price, the worst case spend.
func (p *Pipeline) buildRequest(rule models.MarketRule) models.TradeRequest {
	price := limitWithSlippage(rule.Side, rule.Price, p.cfg.SlippageTolerancePct)
	return models.TradeRequest{
		ID:          uuid.NewString(),
		MarketID:    rule.MarketID,
		TokenID:     rule.TokenID,
		Side:        rule.Side,
		Price:       price,
		Size:        rule.Size,
		NotionalUSD: price.Mul(rule.Size),
		CreatedAt:   time.Now(),
	}
}

// limitWithSlippage pads a limit price by tolerancePct toward the aggressive
// side, clamped to the venue's open (0,1) price interval.
func limitWithSlippage(side models.Side, price decimal.Decimal, tolerancePct float64) decimal.Decimal {
	if tolerancePct <= 0 {
		return price
	}
	factor := decimal.NewFromFloat(tolerancePct).Div(decimal.NewFromInt(100))
	if side == models.SideBuy {
		padded := price.Mul(decimal.NewFromInt(1).Add(factor))
		ceiling := decimal.NewFromFloat(0.999)
		if padded.GreaterThan(ceiling) {
			return ceiling
		}
		return padded
	}
	padded := price.Mul(decimal.NewFromInt(1).Sub(factor))
	floor := decimal.NewFromFloat(0.001)
	if padded.LessThan(floor) {
		return floor
	}
	return padded
}

// admitAndDispatch runs admission synchronously (cheap, in-memory) and the
// dispatch itself asynchronously.
func (p *Pipeline) admitAndDispatch(ctx context.Context, grp *errgroup.Group, req models.TradeRequest) {
	if err := p.guard.Admit(req); err != nil {
		var rej *guard.Rejection
		if errors.As(err, &rej) {
			p.handleRejection(req, rej)
			return
		}
		// Guard errors are always Rejections; anything else is a bug,
		// but it must not crash the pipeline.
		log.Printf("ERROR: Unexpected admission failure for %s: %v", req.MarketID, err)
		return
	}

	grp.Go(func() error {
		return p.dispatch(ctx, req)
	})
}

// dispatch submits one admitted request. Only fatal collaborator errors are
// returned, which cancels the whole group and halts the pipeline.
func (p *Pipeline) dispatch(ctx context.Context, req models.TradeRequest) error {
	result, err := p.dispatcher.Submit(ctx, req)

	latency := time.Since(req.CreatedAt)
	switch result.Status {
	case models.StatusSubmitted, models.StatusConfirmed:
		log.Printf("✅ Trade executed - %s - Latency: %.3fs", req.MarketID, latency.Seconds())
		p.sendNotify(fmt.Sprintf("✅ *TRADE %s: %s*\n%s %s @ %s ($%s)\nLatency: %.3fs",
			result.Status, req.MarketID, req.Side, req.Size, req.Price.StringFixed(3),
			req.NotionalUSD.StringFixed(2), latency.Seconds()))
	default:
		log.Printf("🚫 Trade %s - %s: %s", result.Status, req.MarketID, result.Error)
		p.sendNotify(fmt.Sprintf("🚫 *TRADE %s: %s*\n%s", result.Status, req.MarketID, result.Error))
	}

	if err != nil {
		// Fatal (authentication). Halt rather than silently drop trades.
		return fmt.Errorf("fatal dispatch failure for %s: %w", req.MarketID, err)
	}
	return nil
}

// handleRejection resolves a guard refusal locally: log, record, and for the
// confirmation gate, park the request and prompt the operator.
func (p *Pipeline) handleRejection(req models.TradeRequest, rej *guard.Rejection) {
	if rej.Reason == guard.RejectConfirmationRequired {
		p.parkForConfirmation(req)
		return
	}

	log.Printf("⛔ Guard rejected %s: %s", req.MarketID, rej)
	p.recordRejection(req, string(rej.Reason), rej.Detail)
}

func (p *Pipeline) recordRejection(req models.TradeRequest, status, detail string) {
	p.rec.RecordTrade(models.TradeRecord{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		MarketID:    req.MarketID,
		TokenID:     req.TokenID,
		Side:        req.Side,
		Price:       req.Price,
		Size:        req.Size,
		NotionalUSD: req.NotionalUSD,
		Status:      status,
		Error:       detail,
		LatencyMS:   time.Since(req.CreatedAt).Milliseconds(),
	})
}

func (p *Pipeline) sendNotify(text string) {
	if p.notify != nil {
		p.notify(text)
	}
}

// Uptime reports how long the pipeline has been running.
func (p *Pipeline) Uptime() time.Duration {
	return time.Since(p.startTime)
}
