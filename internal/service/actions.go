package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
)

// ActionService performs automation actions against the inbox and the gateway
type ActionService struct {
	convRepo     repo.ConversationRepo
	instanceRepo repo.InstanceRepo
	gateway      repo.GatewayRepo
	publisher    repo.EventPublisher
	engine       *usecase.TriggerEngine
	now          func() time.Time
}

var _ usecase.ActionHandler = (*ActionService)(nil)

// NewActionService creates a new action service
func NewActionService(convRepo repo.ConversationRepo, instanceRepo repo.InstanceRepo, gateway repo.GatewayRepo, publisher repo.EventPublisher) *ActionService {
	return &ActionService{
		convRepo:     convRepo,
		instanceRepo: instanceRepo,
		gateway:      gateway,
		publisher:    publisher,
		now:          time.Now,
	}
}

// SetEngine wires the trigger engine used for follow-up events such as
// conversation_resolved. The engine itself depends on this service.
func (s *ActionService) SetEngine(engine *usecase.TriggerEngine) {
	s.engine = engine
}

// SendMessage sends text to the contact and records it as an automation message
func (s *ActionService) SendMessage(ctx context.Context, ec domain.EventContext, text string) error {
	conv, err := s.convRepo.GetConversation(ctx, ec.ConversationID)
	if err != nil {
		return err
	}
	instance, err := s.instanceRepo.GetInstance(ctx, conv.InstanceID)
	if err != nil {
		return fmt.Errorf("instance %s: %w", conv.InstanceID, err)
	}
	if err := s.gateway.SendText(ctx, instance, conv.Phone, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	now := s.now()
	if err := s.convRepo.SaveMessage(ctx, &domain.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderAutomation,
		Content:        text,
		CreatedAt:      now,
	}); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return s.convRepo.Touch(ctx, conv.ID, domain.Preview(text, 100), now, false)
}

// SendPrivateNote records a note visible to agents only
func (s *ActionService) SendPrivateNote(ctx context.Context, ec domain.EventContext, text string) error {
	return s.convRepo.SaveMessage(ctx, &domain.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: ec.ConversationID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderAutomation,
		Content:        text,
		IsPrivate:      true,
		CreatedAt:      s.now(),
	})
}

// AddLabel tags the conversation
func (s *ActionService) AddLabel(ctx context.Context, ec domain.EventContext, label string) error {
	label = strings.TrimSpace(label)
	if err := s.convRepo.AddLabel(ctx, ec.ConversationID, label, s.now()); err != nil {
		return err
	}
	s.updated(ctx, ec.ConversationID, "label", label)
	return nil
}

// Resolve closes the conversation and fires conversation_resolved.
// Resolving an already resolved conversation is a no-op.
func (s *ActionService) Resolve(ctx context.Context, ec domain.EventContext) error {
	conv, err := s.convRepo.GetConversation(ctx, ec.ConversationID)
	if err != nil {
		return err
	}
	if conv.IsResolved() {
		return nil
	}
	if err := s.convRepo.UpdateStatus(ctx, conv.ID, domain.ConversationResolved, s.now()); err != nil {
		return err
	}
	conv.Status = domain.ConversationResolved
	s.updated(ctx, conv.ID, "status", string(domain.ConversationResolved))

	if s.engine != nil {
		if err := s.engine.TriggerConversationResolved(ctx, conv); err != nil {
			log.Warn().Err(err).Str("component", "actions").Str("conversation_id", conv.ID).Msg("resolved trigger failed")
		}
	}
	return nil
}

// ToggleAI switches AI replies for the conversation
func (s *ActionService) ToggleAI(ctx context.Context, ec domain.EventContext, enabled bool) error {
	if err := s.convRepo.SetAIEnabled(ctx, ec.ConversationID, enabled, s.now()); err != nil {
		return err
	}
	s.updated(ctx, ec.ConversationID, "ai_enabled", enabled)
	return nil
}

// Snooze parks the conversation until the given time
func (s *ActionService) Snooze(ctx context.Context, ec domain.EventContext, until time.Time) error {
	if err := s.convRepo.Snooze(ctx, ec.ConversationID, until, s.now()); err != nil {
		return err
	}
	s.updated(ctx, ec.ConversationID, "snoozed_until", until.UTC().Format(time.RFC3339))
	return nil
}

// SetPriority sets the conversation priority
func (s *ActionService) SetPriority(ctx context.Context, ec domain.EventContext, priority string) error {
	if err := s.convRepo.SetPriority(ctx, ec.ConversationID, priority, s.now()); err != nil {
		return err
	}
	s.updated(ctx, ec.ConversationID, "priority", priority)
	return nil
}

// AssignAgent hands the conversation to a human and fires conversation_assigned.
// Re-assigning to the current assignee is a no-op.
func (s *ActionService) AssignAgent(ctx context.Context, ec domain.EventContext, assignee string) error {
	conv, err := s.convRepo.GetConversation(ctx, ec.ConversationID)
	if err != nil {
		return err
	}
	if conv.AssignedTo == assignee {
		return nil
	}
	if err := s.convRepo.Assign(ctx, conv.ID, assignee, s.now()); err != nil {
		return err
	}
	conv.AssignedTo = assignee
	s.updated(ctx, conv.ID, "assigned_to", assignee)

	if s.engine != nil && assignee != "" {
		if err := s.engine.TriggerConversationAssigned(ctx, conv); err != nil {
			log.Warn().Err(err).Str("component", "actions").Str("conversation_id", conv.ID).Msg("assigned trigger failed")
		}
	}
	return nil
}

func (s *ActionService) updated(ctx context.Context, conversationID, field string, value any) {
	if s.publisher == nil {
		return
	}
	ev := &domain.Event{
		ID:             uuid.NewString(),
		Type:           domain.TopicConversationUpdated,
		ConversationID: conversationID,
		Payload:        map[string]any{field: value},
		Time:           s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "actions").Msg("publish failed")
	}
}
