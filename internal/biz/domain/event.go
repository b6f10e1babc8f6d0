package domain

import "time"

// Event types published to the message broker
const (
	TopicBufferCompleted     = "buffer.completed"
	TopicBufferFailed        = "buffer.failed"
	TopicAutomationExecuted  = "automation.executed"
	TopicConversationUpdated = "conversation.updated"
)

// Event is a notification about something the pipeline did
type Event struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	BufferID       string         `json:"buffer_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Time           time.Time      `json:"time"`
}
