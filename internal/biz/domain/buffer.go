package domain

import (
	"strings"
	"time"
)

// BufferStatus is the lifecycle state of a message buffer
type BufferStatus string

const (
	BufferStatusBuffering  BufferStatus = "buffering"
	BufferStatusProcessing BufferStatus = "processing"
	BufferStatusCompleted  BufferStatus = "completed"
	BufferStatusFailed     BufferStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s BufferStatus) IsTerminal() bool {
	return s == BufferStatusCompleted || s == BufferStatusFailed
}

// BufferedMessage is one inbound message held in a buffer
type BufferedMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
}

// MessageBuffer batches inbound messages of one conversation into a single agent turn
type MessageBuffer struct {
	ID                  string            `json:"id"`
	ConversationID      string            `json:"conversation_id"`
	InstanceID          string            `json:"instance_id"`
	Phone               string            `json:"phone"`
	AgentID             string            `json:"agent_id,omitempty"` // empty when unresolved
	Messages            []BufferedMessage `json:"messages"`
	FirstMessageAt      time.Time         `json:"first_message_at"`
	LastMessageAt       time.Time         `json:"last_message_at"`
	ScheduledResponseAt time.Time         `json:"scheduled_response_at"`
	Status              BufferStatus      `json:"status"`
	ClaimedAt           time.Time         `json:"claimed_at,omitempty"`
	CompletedAt         time.Time         `json:"completed_at,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
}

// AppendRequest carries one inbound message into the buffer store
type AppendRequest struct {
	ConversationID string
	InstanceID     string
	Phone          string
	AgentID        string
	Content        string
	MessageID      string
}

// NewMessageBuffer starts a buffer holding a single message
func NewMessageBuffer(id string, req AppendRequest, now time.Time, window time.Duration) *MessageBuffer {
	return &MessageBuffer{
		ID:             id,
		ConversationID: req.ConversationID,
		InstanceID:     req.InstanceID,
		Phone:          req.Phone,
		AgentID:        req.AgentID,
		Messages: []BufferedMessage{
			{Content: req.Content, Timestamp: now, MessageID: req.MessageID},
		},
		FirstMessageAt:      now,
		LastMessageAt:       now,
		ScheduledResponseAt: now.Add(window),
		Status:              BufferStatusBuffering,
		CreatedAt:           now,
	}
}

// IsActive reports whether the buffer still accepts messages
func (b *MessageBuffer) IsActive() bool {
	return b.Status == BufferStatusBuffering
}

// IsDue reports whether the debounce window has elapsed
func (b *MessageBuffer) IsDue(now time.Time) bool {
	return b.IsActive() && !b.ScheduledResponseAt.After(now)
}

// Append adds a message and pushes the scheduled response forward.
// ScheduledResponseAt never moves backwards, even with a shorter window.
func (b *MessageBuffer) Append(req AppendRequest, now time.Time, window time.Duration) {
	b.Messages = append(b.Messages, BufferedMessage{
		Content:   req.Content,
		Timestamp: now,
		MessageID: req.MessageID,
	})
	b.LastMessageAt = now
	if next := now.Add(window); next.After(b.ScheduledResponseAt) {
		b.ScheduledResponseAt = next
	}
	if b.AgentID == "" {
		b.AgentID = req.AgentID
	}
}

// CombinedContent joins message contents in arrival order
func (b *MessageBuffer) CombinedContent() string {
	parts := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Contents returns the individual message contents in arrival order
func (b *MessageBuffer) Contents() []string {
	out := make([]string, len(b.Messages))
	for i, m := range b.Messages {
		out[i] = m.Content
	}
	return out
}

// BufferSummary represents buffer overview per conversation
type BufferSummary struct {
	ConversationID string    `json:"conversation_id"`
	Phone          string    `json:"phone"`
	Status         string    `json:"status"`
	MessageCount   int       `json:"message_count"`
	ScheduledAt    time.Time `json:"scheduled_response_at"`
	LastMessage    time.Time `json:"last_message_at"`
}

// ProcessSummary is the outcome of one processor pass
type ProcessSummary struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"errors"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"-"`
}
