package domain

import (
	"strings"
	"time"
	"unicode"
)

// ConversationStatus is the inbox state of a conversation
type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
	ConversationSnoozed  ConversationStatus = "snoozed"
)

// Conversation is a WhatsApp chat with one contact through one instance
type Conversation struct {
	ID                     string             `json:"id"`
	InstanceID             string             `json:"instance_id"`
	Phone                  string             `json:"phone"`
	ContactName            string             `json:"contact_name"`
	Status                 ConversationStatus `json:"status"`
	Priority               string             `json:"priority"`
	AIEnabled              bool               `json:"ai_enabled"`
	AssignedTo             string             `json:"assigned_to,omitempty"`
	AgentID                string             `json:"agent_id,omitempty"`
	LastMessageAt          time.Time          `json:"last_message_at"`
	LastMessagePreview     string             `json:"last_message_preview"`
	UnreadCount            int                `json:"unread_count"`
	SnoozedUntil           time.Time          `json:"snoozed_until,omitempty"`
	InactivityFiredAt      time.Time          `json:"inactivity_fired_at,omitempty"`
	// InactivityFiredMinutes is the largest rule threshold already fired for the quiet period
	InactivityFiredMinutes int                `json:"inactivity_fired_minutes,omitempty"`
	Labels                 []string           `json:"labels,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// ShouldAIRespond reports whether the AI agent may answer this conversation
func (c *Conversation) ShouldAIRespond() bool {
	return c.AIEnabled && c.AssignedTo == ""
}

// IsResolved checks if conversation is resolved
func (c *Conversation) IsResolved() bool {
	return c.Status == ConversationResolved
}

// SessionID is the stable agent session key for multi-turn context
func (c *Conversation) SessionID() string {
	return "whatsapp_" + c.ID
}

// InactiveFor returns how long the conversation has been quiet
func (c *Conversation) InactiveFor(now time.Time) time.Duration {
	if c.LastMessageAt.IsZero() {
		return 0
	}
	return now.Sub(c.LastMessageAt)
}

// InactivityAfter returns the inactivity threshold, in minutes, already fired
// since the last message, or zero when the current quiet period is unnotified
func (c *Conversation) InactivityAfter() int {
	if c.InactivityFiredAt.IsZero() || c.InactivityFiredAt.Before(c.LastMessageAt) {
		return 0
	}
	return c.InactivityFiredMinutes
}

// Instance is a WhatsApp gateway account
type Instance struct {
	ID             string `json:"id"`
	InstanceKey    string `json:"instance_key"`
	Name           string `json:"name"`
	Token          string `json:"-"`
	DefaultAgentID string `json:"default_agent_id,omitempty"`
}

// AgentKind selects how an agent is invoked
type AgentKind string

const (
	AgentKindNative  AgentKind = "native"
	AgentKindWebhook AgentKind = "webhook"
)

// Agent is an AI responder configuration
type Agent struct {
	ID                      string    `json:"id"`
	Name                    string    `json:"name"`
	Kind                    AgentKind `json:"kind"`
	WebhookURL              string    `json:"webhook_url,omitempty"`
	SystemPrompt            string    `json:"system_prompt,omitempty"`
	Model                   string    `json:"model,omitempty"`
	ResponseDelayMinSeconds int       `json:"response_delay_min"`
	ResponseDelayMaxSeconds int       `json:"response_delay_max"`
	TypingSimulation        bool      `json:"typing_simulation"`
	IsActive                bool      `json:"is_active"`
}

// NormalizePhone strips everything but digits from a phone number or JID
func NormalizePhone(phone string) string {
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	var sb strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Preview truncates text for conversation list previews
func Preview(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
