package repo

import (
	"context"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

// ConversationRepo stores conversations and their chat log
type ConversationRepo interface {
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// FindOrCreate returns the conversation for (instance, phone), creating an open one if needed
	FindOrCreate(ctx context.Context, instanceID, phone, contactName string, aiDefault bool, now time.Time) (conv *domain.Conversation, created bool, err error)

	// Touch records activity: last message time, preview and unread counter
	Touch(ctx context.Context, id, preview string, at time.Time, incrementUnread bool) error

	SaveMessage(ctx context.Context, msg *domain.ChatMessage) error

	// RecentMessages returns up to limit non-private messages, oldest first
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.ChatMessage, error)

	UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus, now time.Time) error
	SetAIEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
	SetPriority(ctx context.Context, id, priority string, now time.Time) error
	Assign(ctx context.Context, id, assignee string, now time.Time) error
	Snooze(ctx context.Context, id string, until, now time.Time) error
	AddLabel(ctx context.Context, id, label string, now time.Time) error

	// ListInactive returns open conversations quiet since before that have not
	// fired the minutes threshold for their last message yet
	ListInactive(ctx context.Context, before time.Time, minutes, limit int) ([]*domain.Conversation, error)
	MarkInactivityFired(ctx context.Context, id string, at time.Time, minutes int) error
}

// InstanceRepo looks up gateway accounts and agent configurations
type InstanceRepo interface {
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
	GetInstanceByKey(ctx context.Context, key string) (*domain.Instance, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)

	// SaveInstance and SaveAgent upsert seeded configuration
	SaveInstance(ctx context.Context, instance *domain.Instance) error
	SaveAgent(ctx context.Context, agent *domain.Agent) error
}
