package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
	"github.com/zapdesk/inbox-bridge/internal/infra/rabbitmq"
)

// ErrInvalidEvent is returned for automation events that cannot be processed
var ErrInvalidEvent = errors.New("invalid automation event")

// AutomationEvent is an externally fired automation event
type AutomationEvent struct {
	EventType      string     `json:"event_type"`
	ConversationID string     `json:"conversation_id"`
	MessageID      string     `json:"message_id,omitempty"`
	Content        string     `json:"content,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// EventService feeds external events (HTTP or broker) into the trigger engine
type EventService struct {
	convRepo repo.ConversationRepo
	engine   *usecase.TriggerEngine
	now      func() time.Time
}

// NewEventService creates a new event service
func NewEventService(convRepo repo.ConversationRepo, engine *usecase.TriggerEngine) *EventService {
	return &EventService{
		convRepo: convRepo,
		engine:   engine,
		now:      time.Now,
	}
}

// FireEvent evaluates automation rules for the event against the current conversation
func (s *EventService) FireEvent(ctx context.Context, ev *AutomationEvent) (*usecase.ProcessResult, error) {
	eventType := domain.EventType(ev.EventType)
	if !eventType.IsValid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidEvent)
	}

	conv, err := s.convRepo.GetConversation(ctx, ev.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", ev.ConversationID, err)
	}

	at := s.now()
	if ev.Timestamp != nil && !ev.Timestamp.IsZero() {
		at = *ev.Timestamp
	}
	ec := domain.EventContextFor(conv, at)
	ec.MessageID = ev.MessageID
	ec.Content = ev.Content

	return s.engine.ProcessEvent(ctx, eventType, ec)
}

// HandleDelivery is the broker handler for automation events. Malformed or
// unroutable events are permanent failures and are not redelivered.
func (s *EventService) HandleDelivery(ctx context.Context, routingKey string, body []byte) error {
	var ev AutomationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return &rabbitmq.PermanentError{Err: fmt.Errorf("decode event: %w", err)}
	}
	if ev.EventType == "" {
		ev.EventType = routingKey
	}

	result, err := s.FireEvent(ctx, &ev)
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) || errors.Is(err, domain.ErrNotFound) {
			return &rabbitmq.PermanentError{Err: err}
		}
		return err
	}

	log.Debug().Str("component", "events").
		Str("event", ev.EventType).
		Str("conversation_id", ev.ConversationID).
		Int("matched", result.Matched).
		Bool("duplicate", result.Duplicate).
		Msg("automation event handled")
	return nil
}
