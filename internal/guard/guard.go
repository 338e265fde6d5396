// Package guard is the last admission-control gate before money moves:
// duplicate prevention, the daily USD volume cap, per-market position limits
// and the external confirmation gate.
package guard

import (
	"fmt"
	"log"
	"sync"
	"time"

	"phrase_trading/internal/models"
	"phrase_trading/internal/storage"

	"github.com/shopspring/decimal"
)

// RejectReason identifies why a trade request was refused admission.
type RejectReason string

const (
	RejectDuplicate            RejectReason = "DUPLICATE"
	RejectVolumeExceeded       RejectReason = "VOLUME_EXCEEDED"
	RejectPositionExceeded     RejectReason = "POSITION_EXCEEDED"
	RejectConfirmationRequired RejectReason = "CONFIRMATION_REQUIRED"
)

// Rejection is an expected, non-fatal refusal. It satisfies error so callers
// can thread it through normal error paths, but it must never crash the
// pipeline.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("trade rejected (%s): %s", r.Reason, r.Detail)
}

// Options are the global settings the guard enforces.
type Options struct {
	PreventDuplicates   bool
	RequireConfirmation bool
	MaxDailyVolume      decimal.Decimal
	DayLoc              *time.Location
}

// Guard owns the only mutable cross-market state in the system. The volume
// tracker mutex is the single serialization point across markets because the
// daily cap is cross-market; the duplicate set and position totals are
// market-scoped and guarded separately.
type Guard struct {
	rules *models.RuleSet
	opts  Options

	// trackerMu guards the daily volume tracker.
	trackerMu  sync.Mutex
	tradingDay string
	spentUSD   decimal.Decimal

	// marketMu guards the traded set and position totals.
	marketMu  sync.Mutex
	traded    map[string]bool
	positions map[string]decimal.Decimal

	persist func(storage.TraderState) // nil disables persistence (tests)
	now     func() time.Time
}

// New builds a guard seeded from the persisted trader state, so restarts keep
// both the already-traded set and today's spent volume.
func New(rules *models.RuleSet, opts Options, state storage.TraderState) *Guard {
	if opts.DayLoc == nil {
		opts.DayLoc = time.UTC
	}
	g := &Guard{
		rules:      rules,
		opts:       opts,
		tradingDay: state.TradingDay,
		spentUSD:   state.SpentUSD,
		traded:     make(map[string]bool, len(state.TradedMarkets)),
		positions:  make(map[string]decimal.Decimal, len(state.Positions)),
		persist:    storage.SaveState,
		now:        time.Now,
	}
	for _, m := range state.TradedMarkets {
		g.traded[m] = true
	}
	for m, sz := range state.Positions {
		g.positions[m] = sz
	}
	return g
}

// Admit runs the admission checks in order (duplicate, volume, position,
// confirmation) and, if all pass, atomically reserves the request's notional
// against the daily budget and its size against the market position. The
// check and the reservation happen under the tracker lock as one step, so two
// near-simultaneous fires can never both pass against a stale total.
//
// Returns nil on admission, or a *Rejection.
func (g *Guard) Admit(req models.TradeRequest) error {
	rule, ok := g.rules.Get(req.MarketID)
	if !ok {
		return &Rejection{Reason: RejectPositionExceeded, Detail: fmt.Sprintf("no rule for market %s", req.MarketID)}
	}

	// (a) Duplicate: checked against the durable traded set, not the
	// trigger state, so the guarantee survives restarts.
	if g.opts.PreventDuplicates {
		g.marketMu.Lock()
		already := g.traded[req.MarketID]
		g.marketMu.Unlock()
		if already {
			return &Rejection{Reason: RejectDuplicate, Detail: fmt.Sprintf("market %s already traded", req.MarketID)}
		}
	}

	// Lock order: tracker before market, always.
	g.trackerMu.Lock()
	defer g.trackerMu.Unlock()

	g.rollDayLocked()

	// (b) Daily volume cap, cross-market.
	if g.spentUSD.Add(req.NotionalUSD).GreaterThan(g.opts.MaxDailyVolume) {
		return &Rejection{
			Reason: RejectVolumeExceeded,
			Detail: fmt.Sprintf("spent $%s + $%s exceeds daily cap $%s",
				g.spentUSD.StringFixed(2), req.NotionalUSD.StringFixed(2), g.opts.MaxDailyVolume.StringFixed(2)),
		}
	}

	g.marketMu.Lock()
	defer g.marketMu.Unlock()

	// (c) Per-market position limit. MaxPosition zero means unlimited.
	if rule.MaxPosition.IsPositive() {
		newPos := g.positions[req.MarketID].Add(req.Size)
		if newPos.GreaterThan(rule.MaxPosition) {
			return &Rejection{
				Reason: RejectPositionExceeded,
				Detail: fmt.Sprintf("position %s would exceed max %s", newPos, rule.MaxPosition),
			}
		}
	}

	// (d) Confirmation gate. No reservation happens for a parked request;
	// the approved re-submission comes back with Confirmed set.
	if g.opts.RequireConfirmation && !req.Confirmed {
		return &Rejection{Reason: RejectConfirmationRequired, Detail: "awaiting external approval"}
	}

	// Reserve. The traded mark is intentionally part of the reservation:
	// once an order is handed to the venue it may exist even if our
	// confirmation times out, so it is never rolled back.
	g.spentUSD = g.spentUSD.Add(req.NotionalUSD)
	g.positions[req.MarketID] = g.positions[req.MarketID].Add(req.Size)
	g.traded[req.MarketID] = true
	g.persistLocked()
	return nil
}

// Rollback undoes the volume and position reservation after a failed or
// timed-out dispatch, restoring the tracker exactly as it was before
// admission. The traded mark stays (see Admit).
func (g *Guard) Rollback(req models.TradeRequest) {
	g.trackerMu.Lock()
	defer g.trackerMu.Unlock()

	g.rollDayLocked()
	g.spentUSD = g.spentUSD.Sub(req.NotionalUSD)
	if g.spentUSD.IsNegative() {
		g.spentUSD = decimal.Zero
	}

	g.marketMu.Lock()
	defer g.marketMu.Unlock()
	pos := g.positions[req.MarketID].Sub(req.Size)
	if pos.IsNegative() {
		pos = decimal.Zero
	}
	g.positions[req.MarketID] = pos
	g.persistLocked()
}

// rollDayLocked resets the spent counter when the trading day rolls over in
// the configured timezone. Caller holds trackerMu.
func (g *Guard) rollDayLocked() {
	today := g.now().In(g.opts.DayLoc).Format("2006-01-02")
	if g.tradingDay != today {
		if g.tradingDay != "" {
			log.Printf("Trading day rollover %s -> %s, daily volume reset (was $%s)",
				g.tradingDay, today, g.spentUSD.StringFixed(2))
		}
		g.tradingDay = today
		g.spentUSD = decimal.Zero
	}
}

// persistLocked snapshots guard state to disk. Caller holds both mutexes.
func (g *Guard) persistLocked() {
	if g.persist == nil {
		return
	}
	g.persist(g.snapshotLocked())
}

func (g *Guard) snapshotLocked() storage.TraderState {
	s := storage.TraderState{
		Version:       "1.1",
		LastSync:      g.now().In(g.opts.DayLoc).Format(time.RFC3339),
		TradingDay:    g.tradingDay,
		SpentUSD:      g.spentUSD,
		TradedMarkets: make([]string, 0, len(g.traded)),
		Positions:     make(map[string]decimal.Decimal, len(g.positions)),
	}
	for m := range g.traded {
		s.TradedMarkets = append(s.TradedMarkets, m)
	}
	for m, sz := range g.positions {
		s.Positions[m] = sz
	}
	return s
}

// Snapshot returns the current durable state, for the shutdown save.
func (g *Guard) Snapshot() storage.TraderState {
	g.trackerMu.Lock()
	defer g.trackerMu.Unlock()
	g.marketMu.Lock()
	defer g.marketMu.Unlock()
	return g.snapshotLocked()
}

// SpentToday reports the reserved volume for the current trading day.
func (g *Guard) SpentToday() decimal.Decimal {
	g.trackerMu.Lock()
	defer g.trackerMu.Unlock()
	g.rollDayLocked()
	return g.spentUSD
}
