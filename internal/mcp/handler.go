package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

const defaultBufferLimit = 20

// Handler serves MCP tool calls by relaying them to the bridge API
type Handler struct {
	client *Client
}

// NewHandler creates a new MCP handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// BufferSummaryInput is empty - no input needed
type BufferSummaryInput struct{}

// BufferView is one open buffer as reported to the model
type BufferView struct {
	ConversationID string `json:"conversation_id"`
	Phone          string `json:"phone"`
	Status         string `json:"status"`
	MessageCount   int    `json:"message_count"`
	ScheduledAt    string `json:"scheduled_response_at"`
}

// BufferSummaryOutput lists open buffers
type BufferSummaryOutput struct {
	Buffers []BufferView `json:"buffers"`
	Error   string       `json:"error,omitempty"`
}

// BufferSummary lists the open buffers of every conversation
func (h *Handler) BufferSummary(ctx context.Context, req *mcp.CallToolRequest, input BufferSummaryInput) (*mcp.CallToolResult, BufferSummaryOutput, error) {
	summary, err := h.client.BufferSummary(ctx)
	if err != nil {
		return nil, BufferSummaryOutput{Buffers: []BufferView{}, Error: err.Error()}, nil
	}

	views := make([]BufferView, 0, len(summary))
	for _, b := range summary {
		views = append(views, BufferView{
			ConversationID: b.ConversationID,
			Phone:          b.Phone,
			Status:         b.Status,
			MessageCount:   b.MessageCount,
			ScheduledAt:    b.ScheduledAt.Format(time.RFC3339),
		})
	}
	return nil, BufferSummaryOutput{Buffers: views}, nil
}

// ConversationBuffersInput selects a conversation
type ConversationBuffersInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"The conversation to inspect"`
	Limit          int    `json:"limit,omitempty" jsonschema:"Maximum number of buffers to return (default 20)"`
}

// BufferDetail is one buffer with its batched messages
type BufferDetail struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Messages    []string `json:"messages"`
	ScheduledAt string   `json:"scheduled_response_at"`
	LastError   string   `json:"last_error,omitempty"`
}

// ConversationBuffersOutput contains the buffers of one conversation
type ConversationBuffersOutput struct {
	Buffers []BufferDetail `json:"buffers"`
	Error   string         `json:"error,omitempty"`
}

// ConversationBuffers returns the recent buffers of one conversation, newest first
func (h *Handler) ConversationBuffers(ctx context.Context, req *mcp.CallToolRequest, input ConversationBuffersInput) (*mcp.CallToolResult, ConversationBuffersOutput, error) {
	if input.ConversationID == "" {
		return nil, ConversationBuffersOutput{Buffers: []BufferDetail{}, Error: "conversation_id is required"}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultBufferLimit
	}

	buffers, err := h.client.ConversationBuffers(ctx, input.ConversationID, limit)
	if err != nil {
		return nil, ConversationBuffersOutput{Buffers: []BufferDetail{}, Error: err.Error()}, nil
	}

	details := make([]BufferDetail, 0, len(buffers))
	for _, b := range buffers {
		texts := make([]string, 0, len(b.Messages))
		for _, m := range b.Messages {
			texts = append(texts, m.Content)
		}
		details = append(details, BufferDetail{
			ID:          b.ID,
			Status:      string(b.Status),
			Messages:    texts,
			ScheduledAt: b.ScheduledResponseAt.Format(time.RFC3339),
			LastError:   b.LastError,
		})
	}
	return nil, ConversationBuffersOutput{Buffers: details}, nil
}

// ProcessBuffersInput is empty - no input needed
type ProcessBuffersInput struct{}

// ProcessBuffersOutput reports one processor pass
type ProcessBuffersOutput struct {
	Success    bool   `json:"success"`
	Processed  int    `json:"processed"`
	Errors     int    `json:"errors"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ProcessBuffers drains due buffers immediately
func (h *Handler) ProcessBuffers(ctx context.Context, req *mcp.CallToolRequest, input ProcessBuffersInput) (*mcp.CallToolResult, ProcessBuffersOutput, error) {
	result, err := h.client.ProcessBuffers(ctx)
	if err != nil {
		return nil, ProcessBuffersOutput{Error: err.Error()}, nil
	}

	log.Info().Str("component", "mcp").Int("processed", result.Processed).Int("errors", result.Errors).Msg("processor pass triggered")
	return nil, ProcessBuffersOutput{
		Success:    true,
		Processed:  result.Processed,
		Errors:     result.Errors,
		Skipped:    result.Skipped,
		DurationMS: result.DurationMS,
	}, nil
}

// FireEventInput describes an automation event
type FireEventInput struct {
	EventType      string `json:"event_type" jsonschema:"One of message_created, conversation_created, conversation_updated, conversation_resolved, conversation_reopened, conversation_assigned, keyword_detected, inactivity_timeout"`
	ConversationID string `json:"conversation_id" jsonschema:"The conversation the event belongs to"`
	MessageID      string `json:"message_id,omitempty" jsonschema:"Optional message id, used for deduplication"`
	Content        string `json:"content,omitempty" jsonschema:"Optional message text for keyword rules"`
}

// FireEventOutput reports matched and executed rules
type FireEventOutput struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate"`
	Matched   int    `json:"matched"`
	Executed  int    `json:"executed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// FireEvent runs automation rules for an event
func (h *Handler) FireEvent(ctx context.Context, req *mcp.CallToolRequest, input FireEventInput) (*mcp.CallToolResult, FireEventOutput, error) {
	if !domain.EventType(input.EventType).IsValid() {
		return nil, FireEventOutput{Error: fmt.Sprintf("unknown event_type %q", input.EventType)}, nil
	}
	if input.ConversationID == "" {
		return nil, FireEventOutput{Error: "conversation_id is required"}, nil
	}

	result, err := h.client.FireEvent(ctx, &EventRequest{
		EventType:      input.EventType,
		ConversationID: input.ConversationID,
		MessageID:      input.MessageID,
		Content:        input.Content,
	})
	if err != nil {
		return nil, FireEventOutput{Error: err.Error()}, nil
	}

	return nil, FireEventOutput{
		Success:   true,
		Duplicate: result.Duplicate,
		Matched:   result.Matched,
		Executed:  result.Executed,
		Failed:    result.Failed,
	}, nil
}
