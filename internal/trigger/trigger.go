// Package trigger holds the per-market state machine that decides when a rule
// has accumulated enough keyword matches to fire.
package trigger

import (
	"sync"
	"time"

	"phrase_trading/internal/models"
)

// Decision is the outcome of feeding one event's matches into a market.
type Decision int

const (
	None Decision = iota
	Fire
)

// marketState tracks one market's arming window. Each market carries its own
// mutex so a slow evaluation on one market never serializes the others.
type marketState struct {
	mu          sync.Mutex
	matched     map[string]struct{}
	fired       bool
	firedAt     time.Time
	lastResetAt time.Time
}

// Engine accumulates keyword matches per market and fires each rule at most
// once per arming window. The state map is built at construction and never
// resized, so lookups are safe without a global lock.
type Engine struct {
	rules             *models.RuleSet
	preventDuplicates bool
	states            map[string]*marketState
}

func New(rules *models.RuleSet, preventDuplicates bool) *Engine {
	states := make(map[string]*marketState, rules.Len())
	now := time.Now()
	for _, r := range rules.All() {
		states[r.MarketID] = &marketState{
			matched:     make(map[string]struct{}),
			lastResetAt: now,
		}
	}
	return &Engine{
		rules:             rules,
		preventDuplicates: preventDuplicates,
		states:            states,
	}
}

// Update unions this event's matched keywords into the market's arming window
// and evaluates the firing condition. Events below the rule's confidence
// floor are ignored entirely, no state is mutated. Once fired, a market
// returns None until reset; with duplicate prevention off the reset happens
// immediately after the fire, re-arming the market for the next detection.
func (e *Engine) Update(marketID string, ev models.RecognitionEvent, matchedKeywords []string) Decision {
	rule, ok := e.rules.Get(marketID)
	if !ok {
		return None
	}
	st, ok := e.states[marketID]
	if !ok {
		return None
	}

	if ev.Confidence < rule.MinConfidence {
		return None
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, kw := range matchedKeywords {
		st.matched[kw] = struct{}{}
	}

	if st.fired {
		return None
	}
	if !conditionMet(rule, st.matched) {
		return None
	}

	st.fired = true
	st.firedAt = ev.Timestamp
	if !e.preventDuplicates {
		// Post-fire reset: the arming window ends with the fire and a
		// fresh one begins, allowing re-triggering on the next
		// distinct detection.
		st.matched = make(map[string]struct{})
		st.fired = false
		st.lastResetAt = time.Now()
	}
	return Fire
}

func conditionMet(rule models.MarketRule, matched map[string]struct{}) bool {
	switch rule.TriggerType {
	case models.TriggerAll:
		for _, kw := range rule.Keywords {
			if _, ok := matched[kw]; !ok {
				return false
			}
		}
		return true
	default: // ANY
		return len(matched) > 0
	}
}

// Fired reports whether a market is currently in the FIRED state.
func (e *Engine) Fired(marketID string) bool {
	st, ok := e.states[marketID]
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fired
}

// Matched returns a copy of the keywords accumulated in the current window,
// for status reporting.
func (e *Engine) Matched(marketID string) []string {
	st, ok := e.states[marketID]
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, 0, len(st.matched))
	for kw := range st.matched {
		out = append(out, kw)
	}
	return out
}
