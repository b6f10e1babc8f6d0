package repo

import (
	"context"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

// PresenceComposing is the typing indicator presence value
const PresenceComposing = "composing"

// GatewayRepo sends messages through the WhatsApp gateway
type GatewayRepo interface {
	// SendText sends a text message from the instance to the phone number
	SendText(ctx context.Context, instance *domain.Instance, number, text string) error

	// SendPresence emits a presence signal such as "composing"
	SendPresence(ctx context.Context, instance *domain.Instance, number, presence string) error
}

// AgentRequest is one consolidated turn handed to an agent
type AgentRequest struct {
	Message            string
	SessionID          string
	Phone              string
	Source             string
	ConversationID     string
	ContactName        string
	IndividualMessages []string
	History            []*domain.ChatMessage
}

// AgentRepo invokes AI agents
type AgentRepo interface {
	// Invoke runs one agent turn and returns the reply text, possibly empty
	Invoke(ctx context.Context, agent *domain.Agent, req *AgentRequest) (string, error)
}

// EventPublisher publishes pipeline events to the broker
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}
