package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the order direction sent to the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TriggerType controls how many keywords must match before a rule fires.
type TriggerType string

const (
	TriggerAny TriggerType = "ANY" // first matching keyword fires
	TriggerAll TriggerType = "ALL" // every keyword must be seen since the last reset
)

// MatchMode controls how keywords are compared against a transcript.
type MatchMode string

const (
	MatchExact MatchMode = "EXACT" // whole-word token match
	MatchFuzzy MatchMode = "FUZZY" // substring containment
)

// MarketRule maps a set of trigger keywords to a trade action on one market.
// Rules are immutable after Load; validation happens once at load time so the
// matcher and trigger engine never have to re-check them.
type MarketRule struct {
	MarketID      string
	TokenID       string
	Keywords      []string
	TriggerType   TriggerType
	MatchMode     MatchMode
	Side          Side
	Price         decimal.Decimal
	Size          decimal.Decimal
	MaxPosition   decimal.Decimal
	MinConfidence float64
	Disabled      bool
}

// Notional is the USD value of one fire of this rule (price * size).
func (r MarketRule) Notional() decimal.Decimal {
	return r.Price.Mul(r.Size)
}

// Validate rejects malformed rules. Called once at load; a failure here is
// fatal for the whole process, we never trade on a partially valid rule set.
func (r MarketRule) Validate() error {
	if strings.TrimSpace(r.MarketID) == "" {
		return fmt.Errorf("rule missing market_id")
	}
	if strings.TrimSpace(r.TokenID) == "" {
		return fmt.Errorf("rule %s: missing token_id", r.MarketID)
	}
	if len(r.Keywords) == 0 {
		return fmt.Errorf("rule %s: keywords must not be empty", r.MarketID)
	}
	for _, kw := range r.Keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("rule %s: blank keyword", r.MarketID)
		}
	}
	switch r.TriggerType {
	case TriggerAny, TriggerAll:
	default:
		return fmt.Errorf("rule %s: invalid trigger_type %q", r.MarketID, r.TriggerType)
	}
	switch r.MatchMode {
	case MatchExact, MatchFuzzy:
	default:
		return fmt.Errorf("rule %s: invalid match_mode %q", r.MarketID, r.MatchMode)
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("rule %s: invalid side %q", r.MarketID, r.Side)
	}
	one := decimal.NewFromInt(1)
	if !r.Price.IsPositive() || r.Price.GreaterThanOrEqual(one) {
		return fmt.Errorf("rule %s: price must be in (0,1), got %s", r.MarketID, r.Price)
	}
	if !r.Size.IsPositive() {
		return fmt.Errorf("rule %s: size must be positive, got %s", r.MarketID, r.Size)
	}
	if r.MaxPosition.IsNegative() {
		return fmt.Errorf("rule %s: max_position must not be negative", r.MarketID)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("rule %s: min_confidence must be in [0,1], got %f", r.MarketID, r.MinConfidence)
	}
	return nil
}

// RuleSet is the immutable table of trading rules keyed by market ID.
// It is shared read-only across all components, no locking needed.
type RuleSet struct {
	rules map[string]MarketRule
	order []string
}

// NewRuleSet validates every rule and builds the lookup table.
func NewRuleSet(rules []MarketRule) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[string]MarketRule, len(rules))}
	for _, r := range rules {
		if r.Disabled {
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := rs.rules[r.MarketID]; dup {
			return nil, fmt.Errorf("duplicate rule for market %s", r.MarketID)
		}
		rs.rules[r.MarketID] = r
		rs.order = append(rs.order, r.MarketID)
	}
	if len(rs.rules) == 0 {
		return nil, fmt.Errorf("no enabled market rules configured")
	}
	return rs, nil
}

// Get returns the rule for a market ID.
func (rs *RuleSet) Get(marketID string) (MarketRule, bool) {
	r, ok := rs.rules[marketID]
	return r, ok
}

// All returns the rules in configuration order.
func (rs *RuleSet) All() []MarketRule {
	out := make([]MarketRule, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, rs.rules[id])
	}
	return out
}

// Len is the number of enabled rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }
