package uazapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Presence values accepted by the gateway
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// APIError is a non-2xx gateway response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("uazapi: status %d: %s", e.StatusCode, e.Body)
}

// Client is the UAZAPI WhatsApp gateway REST client
type Client struct {
	baseURL      string
	defaultToken string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a gateway client.
// ratePerSecond <= 0 disables outbound rate limiting.
func NewClient(baseURL, defaultToken string, ratePerSecond float64) *Client {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultToken: defaultToken,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(limit, burst),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type presenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
}

// SendText sends a text message. An empty token falls back to the default token.
func (c *Client) SendText(ctx context.Context, token, number, text string) error {
	return c.post(ctx, token, "/send/text", sendTextRequest{Number: number, Text: text})
}

// SendPresence sends a presence signal such as "composing"
func (c *Client) SendPresence(ctx context.Context, token, number, presence string) error {
	return c.post(ctx, token, "/send/presence", presenceRequest{Number: number, Presence: presence})
}

func (c *Client) post(ctx context.Context, token, path string, payload any) error {
	if c.baseURL == "" {
		return fmt.Errorf("uazapi: base URL not configured")
	}
	if token == "" {
		token = c.defaultToken
	}
	if token == "" {
		return fmt.Errorf("uazapi: no token for %s", path)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("uazapi: rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
