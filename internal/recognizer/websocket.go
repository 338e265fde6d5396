package recognizer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"phrase_trading/internal/models"

	"github.com/gorilla/websocket"
)

// WebsocketSource consumes JSON transcript events from a recognizer service
// over a websocket. It reconnects with a fixed delay until the context is
// cancelled, so a recognizer restart never kills the pipeline.
type WebsocketSource struct {
	URL string

	ReadTimeout    time.Duration
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

func NewWebsocketSource(url string) *WebsocketSource {
	return &WebsocketSource{
		URL:            url,
		ReadTimeout:    30 * time.Second,
		PingInterval:   10 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

func (s *WebsocketSource) Name() string { return "websocket" }

// wireEvent is the JSON shape the recognizer service emits per fragment.
type wireEvent struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	Timestamp  int64   `json:"timestamp_ms"`
}

func (s *WebsocketSource) Events(ctx context.Context) (<-chan models.RecognitionEvent, error) {
	out := make(chan models.RecognitionEvent, 32)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.readSession(ctx, out); err != nil && ctx.Err() == nil {
				log.Printf("[recognizer-ws] Session ended: %v. Reconnecting in %s...", err, s.ReconnectDelay)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.ReconnectDelay):
			}
		}
	}()
	return out, nil
}

// readSession runs one connection: dial, ping loop, read loop.
func (s *WebsocketSource) readSession(ctx context.Context, out chan<- models.RecognitionEvent) error {
	log.Printf("[recognizer-ws] Connecting to %s...", s.URL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[recognizer-ws] Connected.")

	conn.SetReadLimit(1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		return nil
	})

	// Ping loop; also closes the connection when the context dies, which
	// unblocks ReadMessage below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))

		var we wireEvent
		if err := json.Unmarshal(message, &we); err != nil {
			// Garbled recognizer output is a gap, not an error.
			continue
		}
		if we.Text == "" {
			continue
		}
		ev := models.RecognitionEvent{
			Timestamp:  time.Now(),
			Text:       we.Text,
			Confidence: we.Confidence,
			Final:      we.Final,
		}
		if we.Timestamp > 0 {
			ev.Timestamp = time.UnixMilli(we.Timestamp)
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
