package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

// settleTimeout bounds sending and completing a reply once it is persisted
const settleTimeout = 30 * time.Second

// MaxBufferProcessing is the longest one claimed buffer can stay in processing:
// the agent call, the largest response delay, typing and sending. Buffers are
// claimed one at a time, so this is also the reclaim window lower bound.
func MaxBufferProcessing(agentTimeout, maxResponseDelay time.Duration) time.Duration {
	return agentTimeout + maxResponseDelay + MaxTypingDuration + settleTimeout
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	BatchSize    int    // Max due buffers handled per pass
	Source       string // Source tag sent to agents
	HistoryLimit int    // Prior chat messages passed to native agents
}

// DefaultProcessorConfig returns default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:    5,
		Source:       "whatsapp",
		HistoryLimit: 20,
	}
}

// ProcessorUsecase drains due buffers: one agent turn and one reply per buffer
type ProcessorUsecase struct {
	bufferRepo   repo.BufferRepo
	convRepo     repo.ConversationRepo
	instanceRepo repo.InstanceRepo
	agentRepo    repo.AgentRepo
	gateway      repo.GatewayRepo
	publisher    repo.EventPublisher
	humanizer    *Humanizer
	config       ProcessorConfig
	tracer       trace.Tracer
	now          func() time.Time
}

// NewProcessorUsecase creates a new processor usecase
func NewProcessorUsecase(
	bufferRepo repo.BufferRepo,
	convRepo repo.ConversationRepo,
	instanceRepo repo.InstanceRepo,
	agentRepo repo.AgentRepo,
	gateway repo.GatewayRepo,
	publisher repo.EventPublisher,
	humanizer *Humanizer,
	config ProcessorConfig,
) *ProcessorUsecase {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.Source == "" {
		config.Source = DefaultProcessorConfig().Source
	}
	if humanizer == nil {
		humanizer = NewHumanizer()
	}
	return &ProcessorUsecase{
		bufferRepo:   bufferRepo,
		convRepo:     convRepo,
		instanceRepo: instanceRepo,
		agentRepo:    agentRepo,
		gateway:      gateway,
		publisher:    publisher,
		humanizer:    humanizer,
		config:       config,
		tracer:       otel.Tracer("github.com/zapdesk/inbox-bridge/processor"),
		now:          time.Now,
	}
}

// RunOnce processes up to BatchSize due buffers, oldest schedule first.
// Per-buffer failures are recorded on the buffer and counted; only a failure
// to list due buffers aborts the pass.
func (uc *ProcessorUsecase) RunOnce(ctx context.Context) (*domain.ProcessSummary, error) {
	start := time.Now()
	ctx, span := uc.tracer.Start(ctx, "processor.run_once")
	defer span.End()

	due, err := uc.bufferRepo.ListDue(ctx, uc.now(), uc.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list due buffers: %w", err)
	}

	summary := &domain.ProcessSummary{}
	for _, buf := range due {
		if ctx.Err() != nil {
			break
		}

		claimed, err := uc.bufferRepo.Claim(ctx, buf.ID, uc.now())
		if errors.Is(err, domain.ErrBufferNotClaimable) {
			summary.Skipped++
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("component", "processor").Str("buffer_id", buf.ID).Msg("claim failed")
			summary.Failed++
			continue
		}

		if err := uc.processClaimed(ctx, claimed); err != nil {
			summary.Failed++
			uc.fail(ctx, claimed, err)
			continue
		}
		summary.Processed++
	}

	summary.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("processor.processed", summary.Processed),
		attribute.Int("processor.errors", summary.Failed),
		attribute.Int("processor.skipped", summary.Skipped),
	)
	if len(due) > 0 {
		log.Info().Str("component", "processor").
			Int("processed", summary.Processed).
			Int("errors", summary.Failed).
			Int("skipped", summary.Skipped).
			Dur("duration", summary.Duration).
			Msg("pass finished")
	}
	return summary, nil
}

// processClaimed runs one claimed buffer, turning panics into errors
func (uc *ProcessorUsecase) processClaimed(ctx context.Context, buf *domain.MessageBuffer) (err error) {
	ctx, span := uc.tracer.Start(ctx, "processor.buffer", trace.WithAttributes(
		attribute.String("buffer.id", buf.ID),
		attribute.String("conversation.id", buf.ConversationID),
		attribute.Int("buffer.messages", len(buf.Messages)),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return uc.processBuffer(ctx, buf)
}

func (uc *ProcessorUsecase) processBuffer(ctx context.Context, buf *domain.MessageBuffer) error {
	conv, err := uc.convRepo.GetConversation(ctx, buf.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", buf.ConversationID, err)
	}
	instance, err := uc.instanceRepo.GetInstance(ctx, buf.InstanceID)
	if err != nil {
		return fmt.Errorf("load instance %s: %w", buf.InstanceID, err)
	}

	agentID := resolveAgentID(buf, conv, instance)
	if agentID == "" {
		return fmt.Errorf("no agent configured for conversation %s: %w", conv.ID, domain.ErrNotFound)
	}
	agent, err := uc.instanceRepo.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if !agent.IsActive {
		return fmt.Errorf("agent %s is inactive", agent.ID)
	}

	// Someone turned the AI off or took the chat while we were buffering.
	if !conv.ShouldAIRespond() {
		log.Info().Str("component", "processor").
			Str("buffer_id", buf.ID).
			Bool("ai_enabled", conv.AIEnabled).
			Str("assigned_to", conv.AssignedTo).
			Msg("AI not wanted, completing without reply")
		return uc.complete(ctx, buf, false)
	}

	req := &repo.AgentRequest{
		Message:            buf.CombinedContent(),
		SessionID:          conv.SessionID(),
		Phone:              buf.Phone,
		Source:             uc.config.Source,
		ConversationID:     conv.ID,
		ContactName:        conv.ContactName,
		IndividualMessages: buf.Contents(),
		History:            uc.history(ctx, buf),
	}

	reply, err := uc.agentRepo.Invoke(ctx, agent, req)
	if err != nil {
		return fmt.Errorf("invoke agent %s: %w", agent.Name, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Info().Str("component", "processor").Str("buffer_id", buf.ID).Msg("agent returned empty reply")
		return uc.complete(ctx, buf, false)
	}

	if err := uc.convRepo.SaveMessage(ctx, uc.replyMessage(conv, reply)); err != nil {
		return fmt.Errorf("save reply: %w", err)
	}

	// The reply is in the conversation log now, so it is sent and the buffer
	// completed even if the pass context goes away.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	uc.deliver(ctx, settleCtx, buf, conv, instance, agent, reply)
	return uc.complete(settleCtx, buf, true)
}

func (uc *ProcessorUsecase) replyMessage(conv *domain.Conversation, reply string) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderAI,
		Content:        reply,
		CreatedAt:      uc.now(),
	}
}

// deliver paces and sends a reply that is already persisted. Pacing waits on
// ctx and is cut short when it ends; the gateway calls use sendCtx. Send
// failures are logged only.
func (uc *ProcessorUsecase) deliver(ctx, sendCtx context.Context, buf *domain.MessageBuffer, conv *domain.Conversation, instance *domain.Instance, agent *domain.Agent, reply string) {
	if err := uc.convRepo.Touch(sendCtx, conv.ID, domain.Preview(reply, 100), uc.now(), false); err != nil {
		log.Warn().Err(err).Str("component", "processor").Str("conversation_id", conv.ID).Msg("touch conversation failed")
	}

	phone := buf.Phone
	if phone == "" {
		phone = conv.Phone
	}

	paced := true
	delay := uc.humanizer.ResponseDelay(agent.ResponseDelayMinSeconds, agent.ResponseDelayMaxSeconds)
	if err := uc.humanizer.Wait(ctx, delay); err != nil {
		paced = false
		log.Warn().Err(err).Str("component", "processor").Str("buffer_id", buf.ID).Msg("response delay cut short, sending now")
	}

	if paced && agent.TypingSimulation {
		if err := uc.gateway.SendPresence(sendCtx, instance, phone, repo.PresenceComposing); err != nil {
			log.Debug().Err(err).Str("component", "processor").Msg("presence failed")
		}
		if err := uc.humanizer.Wait(ctx, TypingDuration(reply)); err != nil {
			log.Warn().Err(err).Str("component", "processor").Str("buffer_id", buf.ID).Msg("typing delay cut short, sending now")
		}
	}

	if err := uc.gateway.SendText(sendCtx, instance, phone, reply); err != nil {
		log.Warn().Err(err).Str("component", "processor").
			Str("buffer_id", buf.ID).
			Str("phone", phone).
			Msg("send failed, reply kept in conversation log")
	}
}

// history returns chat messages that precede the buffered batch, leaving out
// the batch's own messages
func (uc *ProcessorUsecase) history(ctx context.Context, buf *domain.MessageBuffer) []*domain.ChatMessage {
	if uc.config.HistoryLimit <= 0 {
		return nil
	}
	msgs, err := uc.convRepo.RecentMessages(ctx, buf.ConversationID, uc.config.HistoryLimit)
	if err != nil {
		log.Warn().Err(err).Str("component", "processor").Str("conversation_id", buf.ConversationID).Msg("load history failed")
		return nil
	}
	buffered := make(map[string]bool, len(buf.Messages))
	for _, m := range buf.Messages {
		if m.MessageID != "" {
			buffered[m.MessageID] = true
		}
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.CreatedAt.Before(buf.FirstMessageAt) && !buffered[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func (uc *ProcessorUsecase) complete(ctx context.Context, buf *domain.MessageBuffer, replied bool) error {
	if err := uc.bufferRepo.Complete(ctx, buf.ID, uc.now()); err != nil {
		return fmt.Errorf("complete buffer: %w", err)
	}
	uc.publish(ctx, domain.TopicBufferCompleted, buf, map[string]any{
		"messages": len(buf.Messages),
		"replied":  replied,
	})
	return nil
}

// fail marks the buffer failed even when the pass context is already cancelled
func (uc *ProcessorUsecase) fail(ctx context.Context, buf *domain.MessageBuffer, cause error) {
	ctx = context.WithoutCancel(ctx)
	log.Error().Err(cause).Str("component", "processor").
		Str("buffer_id", buf.ID).
		Str("conversation_id", buf.ConversationID).
		Msg("buffer failed")
	if err := uc.bufferRepo.Fail(ctx, buf.ID, uc.now(), cause.Error()); err != nil {
		log.Error().Err(err).Str("component", "processor").Str("buffer_id", buf.ID).Msg("mark failed")
	}
	uc.publish(ctx, domain.TopicBufferFailed, buf, map[string]any{"error": cause.Error()})
}

func (uc *ProcessorUsecase) publish(ctx context.Context, topic string, buf *domain.MessageBuffer, payload map[string]any) {
	if uc.publisher == nil {
		return
	}
	ev := &domain.Event{
		ID:             uuid.NewString(),
		Type:           topic,
		ConversationID: buf.ConversationID,
		BufferID:       buf.ID,
		Payload:        payload,
		Time:           uc.now(),
	}
	if err := uc.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "processor").Str("topic", topic).Msg("publish failed")
	}
}

// resolveAgentID picks the buffer's agent, then the conversation's, then the instance default
func resolveAgentID(buf *domain.MessageBuffer, conv *domain.Conversation, instance *domain.Instance) string {
	switch {
	case buf.AgentID != "":
		return buf.AgentID
	case conv.AgentID != "":
		return conv.AgentID
	default:
		return instance.DefaultAgentID
	}
}
