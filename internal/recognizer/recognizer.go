// Package recognizer adapts external speech-to-text collaborators into a
// stream of recognition events. The recognizer itself is a black box; these
// sources only carry its transcript fragments into the pipeline.
package recognizer

import (
	"context"

	"phrase_trading/internal/models"
)

// Source produces recognition events until the context is cancelled or the
// underlying stream ends. The returned channel is closed on exit.
type Source interface {
	Name() string
	Events(ctx context.Context) (<-chan models.RecognitionEvent, error)
}
