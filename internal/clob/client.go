package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"phrase_trading/internal/models"
)

// Client talks to a Polymarket-style CLOB over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	passphrase string
	httpClient *http.Client
}

// Config carries the venue endpoint and credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
}

// NewClient builds a CLOB client. Per-request deadlines come from the
// caller's context, so the underlying http.Client carries no timeout of its
// own.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{},
	}
}

// orderPayload is the wire shape of an order submission.
type orderPayload struct {
	TokenID       string `json:"token_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"orderID"`
	ErrorMessage string `json:"errorMsg"`
}

// PlaceOrder submits a limit order to the CLOB. Classification of failures:
// 401/403 are fatal auth errors, 429 and 5xx are retryable, other 4xx are
// permanent. Network errors are retryable unless the context deadline has
// already expired, which the dispatcher treats as a timeout.
func (c *Client) PlaceOrder(ctx context.Context, req models.TradeRequest) (string, error) {
	payload := orderPayload{
		TokenID:       req.TokenID,
		Side:          string(req.Side),
		Price:         req.Price.String(),
		Size:          req.Size.String(),
		ClientOrderID: req.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &TransportError{Retryable: false, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Retryable: false, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("POLY-API-KEY", c.apiKey)
	httpReq.Header.Set("POLY-SECRET", c.apiSecret)
	httpReq.Header.Set("POLY-PASSPHRASE", c.passphrase)
	httpReq.Header.Set("POLY-TIMESTAMP", fmt.Sprintf("%d", time.Now().Unix()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, respBody)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransportError{Retryable: true, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	case resp.StatusCode >= 400:
		return "", &TransportError{Retryable: false, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	var out orderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &TransportError{Retryable: false, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success && out.ErrorMessage != "" {
		return "", &TransportError{Retryable: false, Err: fmt.Errorf("order rejected: %s", out.ErrorMessage)}
	}

	log.Printf("[%s] Order accepted: %s %s @ %s (order_id=%s)",
		req.MarketID, req.Side, req.Size, req.Price.StringFixed(3), out.OrderID)
	return out.OrderID, nil
}
