package domain

import "time"

// Direction of a chat message relative to the business
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderType identifies who authored a chat message
type SenderType string

const (
	SenderContact    SenderType = "contact"
	SenderAI         SenderType = "ai"
	SenderAutomation SenderType = "automation"
	SenderAgent      SenderType = "agent"
)

// ChatMessage is one row of the conversation log
type ChatMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Direction      Direction  `json:"direction"`
	SenderType     SenderType `json:"sender_type"`
	Content        string     `json:"content"`
	MediaURL       string     `json:"media_url,omitempty"`
	MediaType      string     `json:"media_type,omitempty"`
	ExternalID     string     `json:"external_id,omitempty"`
	IsPrivate      bool       `json:"is_private"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsFromContact checks if the message came from the customer
func (m *ChatMessage) IsFromContact() bool {
	return m.Direction == DirectionInbound
}

// BufferText is the text appended to the AI buffer for this message
func (m *ChatMessage) BufferText() string {
	if m.Content != "" {
		return m.Content
	}
	if m.MediaType != "" {
		return "[" + m.MediaType + "]"
	}
	return ""
}
