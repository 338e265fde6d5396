package storage

import (
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/shopspring/decimal"
)

// StateFile defines where we save our data on disk.
const StateFile = "trader_state.json"

// TraderState is the durable slice of guard state: which markets have already
// been traded, how much of today's volume budget is spent, and cumulative
// position per market. Persisting it means a process restart does not
// silently re-trade a market or forget the daily cap.
type TraderState struct {
	Version       string                     `json:"version"`
	LastSync      string                     `json:"last_sync"`
	TradingDay    string                     `json:"trading_day"` // YYYY-MM-DD in the configured timezone
	SpentUSD      decimal.Decimal            `json:"spent_usd"`
	TradedMarkets []string                   `json:"traded_markets"`
	Positions     map[string]decimal.Decimal `json:"positions"`
}

// LoadState reads the trader state from disk, creating a fresh template when
// the file is missing.
func LoadState() (TraderState, error) {
	var s TraderState

	if _, err := os.Stat(StateFile); os.IsNotExist(err) {
		log.Println("State file missing, generating template...")
		s = TraderState{
			Version:       "1.1",
			TradedMarkets: []string{},
			Positions:     map[string]decimal.Decimal{},
		}
		SaveState(s)
		return s, nil
	}

	f, err := os.Open(StateFile)
	if err != nil {
		return s, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return s, err
	}

	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}

	if migrateState(&s) {
		log.Printf("INFO: State migrated to version %s. Saving...", s.Version)
		SaveState(s)
	}

	return s, nil
}

// migrateState handles schema evolution.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *TraderState) bool {
	updated := false

	// Migration: 1.0 -> 1.1 (per-market position totals)
	if s.Version < "1.1" {
		log.Println("INFO: Migrating State Schema from 1.0 to 1.1")
		if s.Positions == nil {
			s.Positions = map[string]decimal.Decimal{}
		}
		s.Version = "1.1"
		updated = true
	}

	if s.TradedMarkets == nil {
		s.TradedMarkets = []string{}
		updated = true
	}

	return updated
}

// SaveState writes the current state to disk using an atomic write pattern:
// write a temporary file, sync, then rename over the destination.
func SaveState(s TraderState) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Printf("ERROR: Failed to marshal state: %v", err)
		return
	}

	tmpFile := StateFile + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		log.Printf("ERROR: Failed to create temp state file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		log.Printf("ERROR: Failed to write to temp state file: %v", err)
		return
	}

	// Force sync to disk to prevent data loss on power failure before rename
	if err := f.Sync(); err != nil {
		log.Printf("ERROR: Failed to sync temp state file: %v", err)
		return
	}

	// Close explicitly before renaming (essential on Windows)
	f.Close()

	if err := os.Rename(tmpFile, StateFile); err != nil {
		log.Printf("ERROR: Failed to replace state file (atomic rename): %v", err)
	}
}
