package pipeline

import (
	"fmt"
	"log"
	"strings"
	"time"

	"phrase_trading/internal/models"
	"phrase_trading/internal/telegram"
)

// parkForConfirmation stores a fire pending external approval and prompts
// the operator. Nothing is reserved until the approval comes back through
// HandleCallback; expiry or cancellation produces the terminal record.
func (p *Pipeline) parkForConfirmation(req models.TradeRequest) {
	p.pendingMu.Lock()
	if _, exists := p.pending[req.MarketID]; exists {
		p.pendingMu.Unlock()
		log.Printf("Confirmation already pending for %s, ignoring new fire", req.MarketID)
		return
	}
	p.pending[req.MarketID] = pendingTrade{Request: req, CreatedAt: time.Now()}
	p.pendingMu.Unlock()

	log.Printf("⏸️ Awaiting confirmation for %s ($%s)", req.MarketID, req.NotionalUSD.StringFixed(2))

	msg := fmt.Sprintf("🚨 *TRADE CONFIRMATION: %s*\n%s %s @ %s ($%s)\n\n⏱️ Valid for %d seconds.",
		req.MarketID, req.Side, req.Size, req.Price.StringFixed(3),
		req.NotionalUSD.StringFixed(2), p.cfg.ConfirmationTTLSec)

	buttons := []telegram.Button{
		{Text: "✅ CONFIRM", CallbackData: "CONFIRM_TRADE_" + req.MarketID},
		{Text: "❌ CANCEL", CallbackData: "CANCEL_TRADE_" + req.MarketID},
	}
	if p.prompt != nil {
		p.prompt(msg, buttons)
	}
}

// HandleCallback processes confirmation button presses from Telegram.
func (p *Pipeline) HandleCallback(data string) string {
	var action, marketID string
	switch {
	case strings.HasPrefix(data, "CONFIRM_TRADE_"):
		action, marketID = "CONFIRM", strings.TrimPrefix(data, "CONFIRM_TRADE_")
	case strings.HasPrefix(data, "CANCEL_TRADE_"):
		action, marketID = "CANCEL", strings.TrimPrefix(data, "CANCEL_TRADE_")
	default:
		return "⚠️ Invalid callback data."
	}

	p.pendingMu.Lock()
	pending, exists := p.pending[marketID]
	if exists {
		delete(p.pending, marketID)
	}
	p.pendingMu.Unlock()

	if !exists {
		return fmt.Sprintf("⚠️ Proposal for %s expired or not found.", marketID)
	}

	if action == "CANCEL" {
		p.recordRejection(pending.Request, "CANCELLED", "cancelled by operator")
		return fmt.Sprintf("❌ Trade for %s cancelled.", marketID)
	}

	if time.Since(pending.CreatedAt) > p.cfg.ConfirmationTTL() {
		p.recordRejection(pending.Request, "EXPIRED", "confirmation arrived after TTL")
		return fmt.Sprintf("⏳ TIMEOUT: Confirmation for %s is too old (> %ds). Trade aborted.",
			marketID, p.cfg.ConfirmationTTLSec)
	}

	// Re-enter admission with the gate satisfied; the volume and position
	// checks run again against current totals.
	req := pending.Request
	req.Confirmed = true

	p.runMu.Lock()
	grp, ctx := p.grp, p.runCtx
	p.runMu.Unlock()
	if grp == nil {
		return "⚠️ Pipeline not running."
	}

	p.admitAndDispatch(ctx, grp, req)
	return fmt.Sprintf("👍 Confirmed %s, submitting order.", marketID)
}

// expirePending drops proposals the operator never answered, emitting their
// terminal record.
func (p *Pipeline) expirePending() {
	ttl := p.cfg.ConfirmationTTL()

	p.pendingMu.Lock()
	var expired []pendingTrade
	for marketID, pending := range p.pending {
		if time.Since(pending.CreatedAt) > ttl {
			delete(p.pending, marketID)
			expired = append(expired, pending)
		}
	}
	p.pendingMu.Unlock()

	for _, pending := range expired {
		log.Printf("Confirmation for %s expired after %s", pending.Request.MarketID, ttl)
		p.recordRejection(pending.Request, "EXPIRED", "no confirmation before TTL")
	}
}
