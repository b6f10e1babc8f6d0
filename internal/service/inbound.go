package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
)

// ErrInvalidInbound is returned for webhook payloads missing required fields
var ErrInvalidInbound = errors.New("invalid inbound message")

// seenTTL is how long inbound message ids are remembered for deduplication
const seenTTL = 5 * time.Minute

// InboundMessage is one message received from the WhatsApp gateway
type InboundMessage struct {
	Phone       string `json:"phone"`
	Message     string `json:"message"`
	InstanceKey string `json:"instanceKey,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
	ContactName string `json:"contactName,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
}

// InboundResult tells the caller where the message landed
type InboundResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	BufferID       string `json:"bufferId,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// InboundService records inbound messages and feeds the buffer and the trigger engine
type InboundService struct {
	convRepo     repo.ConversationRepo
	instanceRepo repo.InstanceRepo
	bufferUC     *usecase.BufferUsecase
	engine       *usecase.TriggerEngine
	aiDefault    bool
	now          func() time.Time

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // external message id -> timestamp
}

// NewInboundService creates a new inbound service. engine may be nil.
func NewInboundService(
	convRepo repo.ConversationRepo,
	instanceRepo repo.InstanceRepo,
	bufferUC *usecase.BufferUsecase,
	engine *usecase.TriggerEngine,
	aiDefault bool,
) *InboundService {
	return &InboundService{
		convRepo:     convRepo,
		instanceRepo: instanceRepo,
		bufferUC:     bufferUC,
		engine:       engine,
		aiDefault:    aiDefault,
		now:          time.Now,
		seenMsgs:     make(map[string]time.Time),
	}
}

// HandleInbound persists the message on its conversation, buffers it for the
// AI when the conversation wants AI replies, and fires automation events.
func (s *InboundService) HandleInbound(ctx context.Context, in *InboundMessage) (*InboundResult, error) {
	if err := validateInbound(in); err != nil {
		return nil, err
	}
	if in.MessageID != "" && s.markMessageSeen(in.MessageID) {
		log.Debug().Str("component", "inbound").Str("message_id", in.MessageID).Msg("duplicate message ignored")
		return &InboundResult{Duplicate: true}, nil
	}

	instance, err := s.resolveInstance(ctx, in)
	if err != nil {
		return nil, err
	}

	phone := domain.NormalizePhone(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone has no digits", ErrInvalidInbound)
	}

	now := s.now()
	conv, created, err := s.convRepo.FindOrCreate(ctx, instance.ID, phone, strings.TrimSpace(in.ContactName), s.aiDefault, now)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if created {
		log.Info().Str("component", "inbound").Str("conversation_id", conv.ID).Str("phone", phone).Msg("conversation created")
		s.trigger(ctx, "conversation_created", func() error { return s.engine.TriggerConversationCreated(ctx, conv) })
	}

	if conv.IsResolved() {
		if err := s.convRepo.UpdateStatus(ctx, conv.ID, domain.ConversationOpen, now); err != nil {
			return nil, fmt.Errorf("reopen conversation: %w", err)
		}
		conv.Status = domain.ConversationOpen
		log.Info().Str("component", "inbound").Str("conversation_id", conv.ID).Msg("conversation reopened")
		s.trigger(ctx, "conversation_reopened", func() error { return s.engine.TriggerConversationReopened(ctx, conv) })
	}

	msg := &domain.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		SenderType:     domain.SenderContact,
		Content:        in.Message,
		MediaURL:       in.MediaURL,
		MediaType:      in.MediaType,
		ExternalID:     in.MessageID,
		CreatedAt:      now,
	}
	if err := s.convRepo.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.convRepo.Touch(ctx, conv.ID, domain.Preview(msg.BufferText(), 100), now, true); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	conv.LastMessageAt = now

	result := &InboundResult{ConversationID: conv.ID, MessageID: msg.ID}

	if text := msg.BufferText(); conv.ShouldAIRespond() && strings.TrimSpace(text) != "" {
		agentID := conv.AgentID
		if agentID == "" {
			agentID = instance.DefaultAgentID
		}
		buf, _, err := s.bufferUC.AddToBuffer(ctx, domain.AppendRequest{
			ConversationID: conv.ID,
			InstanceID:     instance.ID,
			Phone:          phone,
			AgentID:        agentID,
			Content:        text,
			MessageID:      msg.ID,
		})
		if err != nil {
			return nil, err
		}
		result.BufferID = buf.ID
	}

	s.trigger(ctx, "message_created", func() error { return s.engine.TriggerMessageCreated(ctx, conv, msg) })
	return result, nil
}

func validateInbound(in *InboundMessage) error {
	if in == nil {
		return ErrInvalidInbound
	}
	if strings.TrimSpace(in.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidInbound)
	}
	if strings.TrimSpace(in.Message) == "" && in.MediaType == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInbound)
	}
	if in.InstanceKey == "" && in.InstanceID == "" {
		return fmt.Errorf("%w: instanceKey or instanceId is required", ErrInvalidInbound)
	}
	return nil
}

func (s *InboundService) resolveInstance(ctx context.Context, in *InboundMessage) (*domain.Instance, error) {
	if in.InstanceKey != "" {
		inst, err := s.instanceRepo.GetInstanceByKey(ctx, in.InstanceKey)
		if err == nil || in.InstanceID == "" {
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", in.InstanceKey, err)
			}
			return inst, nil
		}
	}
	inst, err := s.instanceRepo.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", in.InstanceID, err)
	}
	return inst, nil
}

// trigger runs an automation wrapper; automation failures never fail the inbound path
func (s *InboundService) trigger(ctx context.Context, event string, fn func() error) {
	if s.engine == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("component", "inbound").Str("event", event).Msg("automation failed")
	}
}

// markMessageSeen records the id and reports whether it was already seen
func (s *InboundService) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	if ts, ok := s.seenMsgs[msgID]; ok && now.Sub(ts) < seenTTL {
		return true
	}
	s.seenMsgs[msgID] = now

	// Clean up expired records when marking new messages
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	return false
}
