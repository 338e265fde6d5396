// Package recorder persists detection and trade records for later audit.
// Writes are fire-and-forget from the pipeline's perspective.
package recorder

import (
	"phrase_trading/internal/models"
)

// Recorder receives one immutable record per detection and per terminal
// trade outcome.
type Recorder interface {
	RecordDetection(rec models.DetectionRecord)
	RecordTrade(rec models.TradeRecord)
	Close() error
}

// Nop discards all records. Used in tests and when recording is disabled.
type Nop struct{}

func (Nop) RecordDetection(models.DetectionRecord) {}
func (Nop) RecordTrade(models.TradeRecord)         {}
func (Nop) Close() error                           { return nil }
