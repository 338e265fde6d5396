package recognizer

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"phrase_trading/internal/models"
)

// LineSource reads newline-delimited transcript fragments from a reader,
// typically a recognizer wrapper piped into stdin. Each line is either plain
// text (confidence defaults to 1.0) or "confidence|text".
type LineSource struct {
	r io.Reader
}

func NewLineSource(r io.Reader) *LineSource { return &LineSource{r: r} }

func (s *LineSource) Name() string { return "line" }

func (s *LineSource) Events(ctx context.Context) (<-chan models.RecognitionEvent, error) {
	out := make(chan models.RecognitionEvent, 32)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ev := parseLine(line)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func parseLine(line string) models.RecognitionEvent {
	ev := models.RecognitionEvent{
		Timestamp:  time.Now(),
		Text:       line,
		Confidence: 1.0,
		Final:      true,
	}
	if idx := strings.Index(line, "|"); idx > 0 {
		if conf, err := strconv.ParseFloat(strings.TrimSpace(line[:idx]), 64); err == nil && conf >= 0 && conf <= 1 {
			ev.Confidence = conf
			ev.Text = strings.TrimSpace(line[idx+1:])
		}
	}
	return ev
}
