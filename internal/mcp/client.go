package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
)

// Client is the HTTP client for the bridge API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new bridge API client. token is sent as a bearer
// token when set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ProcessResult is the outcome of a processor pass triggered over HTTP
type ProcessResult struct {
	Processed  int   `json:"processed"`
	Errors     int   `json:"errors"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// EventRequest is an automation event fired through the bridge
type EventRequest struct {
	EventType      string `json:"event_type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

// BufferSummary gets the open buffers of every conversation
func (c *Client) BufferSummary(ctx context.Context) ([]domain.BufferSummary, error) {
	var result []domain.BufferSummary
	if err := c.do(ctx, http.MethodGet, "/api/buffers/summary", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ConversationBuffers gets the most recent buffers of a conversation
func (c *Client) ConversationBuffers(ctx context.Context, conversationID string, limit int) ([]domain.MessageBuffer, error) {
	var result []domain.MessageBuffer
	path := fmt.Sprintf("/api/buffers/%s?limit=%d", url.PathEscape(conversationID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessBuffers runs one processor pass on the bridge
func (c *Client) ProcessBuffers(ctx context.Context) (*ProcessResult, error) {
	var result ProcessResult
	if err := c.do(ctx, http.MethodPost, "/buffer/process", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FireEvent evaluates automation rules for an event
func (c *Client) FireEvent(ctx context.Context, ev *EventRequest) (*usecase.ProcessResult, error) {
	var result usecase.ProcessResult
	if err := c.do(ctx, http.MethodPost, "/api/automation/events", ev, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
