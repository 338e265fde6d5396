package pipeline

import (
	"fmt"
	"strings"
)

// CommandDoc describes one operator command for /help.
type CommandDoc struct {
	Command     string
	Description string
	Usage       string
}

var commands = []CommandDoc{
	{"/ping", "Connectivity check", "/ping"},
	{"/status", "Armed/fired state per market and spent volume", "/status"},
	{"/markets", "Configured rules", "/markets"},
	{"/config", "Inspect system parameters", "/config"},
	{"/help", "This list", "/help"},
}

// HandleCommand processes operator slash commands from Telegram.
func (p *Pipeline) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "/ping":
		return fmt.Sprintf("🏓 Pong. Uptime: %s", p.Uptime().Round(1e9))

	case "/status":
		var sb strings.Builder
		sb.WriteString("*📊 STATUS*\n")
		sb.WriteString(fmt.Sprintf("Spent today: $%s / $%s\n",
			p.guard.SpentToday().StringFixed(2), p.cfg.MaxDailyVolumeUSD().StringFixed(2)))
		for _, rule := range p.rules.All() {
			state := "ARMED"
			if p.engine.Fired(rule.MarketID) {
				state = "FIRED"
			}
			matched := p.engine.Matched(rule.MarketID)
			if len(matched) > 0 && state == "ARMED" {
				sb.WriteString(fmt.Sprintf("• %s: %s (partial: %v)\n", rule.MarketID, state, matched))
			} else {
				sb.WriteString(fmt.Sprintf("• %s: %s\n", rule.MarketID, state))
			}
		}
		p.pendingMu.Lock()
		pending := len(p.pending)
		p.pendingMu.Unlock()
		if pending > 0 {
			sb.WriteString(fmt.Sprintf("⏸️ %d trade(s) awaiting confirmation\n", pending))
		}
		return sb.String()

	case "/markets":
		var sb strings.Builder
		sb.WriteString("*📋 MARKETS*\n")
		for _, rule := range p.rules.All() {
			sb.WriteString(fmt.Sprintf("• %s [%s/%s]: %v → %s %s @ %s\n",
				rule.MarketID, rule.TriggerType, rule.MatchMode, rule.Keywords,
				rule.Side, rule.Size, rule.Price.StringFixed(3)))
		}
		return sb.String()

	case "/config":
		return fmt.Sprintf("*⚙️ CONFIG*\nDuplicate prevention: %t\nMax daily volume: $%.2f\nConfirmation: %t (TTL %ds)\nOrder timeout: %ds\nMin confidence: %.2f\nTimezone: %s",
			p.cfg.PreventDuplicateTrades, p.cfg.MaxDailyVolume,
			p.cfg.RequireConfirmation, p.cfg.ConfirmationTTLSec,
			p.cfg.OrderTimeoutSec, p.cfg.MinConfidence, p.cfg.TradingTimezone)

	case "/help":
		var sb strings.Builder
		sb.WriteString("*Commands*\n")
		for _, c := range commands {
			sb.WriteString(fmt.Sprintf("%s — %s\n", c.Usage, c.Description))
		}
		return sb.String()
	}

	return fmt.Sprintf("Unknown command %s. Try /help.", fields[0])
}
