package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

// BufferConfig contains buffer configuration
type BufferConfig struct {
	DebounceWindow time.Duration // Quiet period before the buffered batch is answered
	CleanupAge     time.Duration // Age after which terminal buffers are deleted
	ReclaimAfter   time.Duration // Processing buffers older than this are treated as abandoned; keep above MaxBufferProcessing
}

// DefaultBufferConfig returns default buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		DebounceWindow: 30 * time.Second,
		CleanupAge:     24 * time.Hour,
		ReclaimAfter:   10 * time.Minute,
	}
}

// BufferUsecase handles message buffering logic
type BufferUsecase struct {
	bufferRepo repo.BufferRepo
	config     BufferConfig
	now        func() time.Time
}

// NewBufferUsecase creates a new buffer usecase
func NewBufferUsecase(bufferRepo repo.BufferRepo, config BufferConfig) *BufferUsecase {
	return &BufferUsecase{
		bufferRepo: bufferRepo,
		config:     config,
		now:        time.Now,
	}
}

// Config returns the buffer configuration
func (uc *BufferUsecase) Config() BufferConfig {
	return uc.config
}

// AddToBuffer appends an inbound message to the conversation's active buffer,
// starting a new one when none is buffering
func (uc *BufferUsecase) AddToBuffer(ctx context.Context, req domain.AppendRequest) (*domain.MessageBuffer, bool, error) {
	if req.ConversationID == "" {
		return nil, false, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, false, fmt.Errorf("message content is required")
	}

	buf, created, err := uc.bufferRepo.Append(ctx, req, uc.now(), uc.config.DebounceWindow)
	if err != nil {
		return nil, false, fmt.Errorf("append to buffer: %w", err)
	}

	if created {
		log.Debug().Str("component", "buffer").
			Str("buffer_id", buf.ID).
			Str("conversation_id", req.ConversationID).
			Time("scheduled_response_at", buf.ScheduledResponseAt).
			Msg("buffer started")
	} else {
		log.Debug().Str("component", "buffer").
			Str("buffer_id", buf.ID).
			Int("messages", len(buf.Messages)).
			Time("scheduled_response_at", buf.ScheduledResponseAt).
			Msg("message appended")
	}
	return buf, created, nil
}

// GetBufferSummary gets buffer summary
func (uc *BufferUsecase) GetBufferSummary(ctx context.Context) ([]*domain.BufferSummary, error) {
	return uc.bufferRepo.GetBufferSummary(ctx)
}

// GetConversationBuffers lists the most recent buffers of a conversation
func (uc *BufferUsecase) GetConversationBuffers(ctx context.Context, conversationID string, limit int) ([]*domain.MessageBuffer, error) {
	if limit <= 0 {
		limit = 20
	}
	return uc.bufferRepo.ListByConversation(ctx, conversationID, limit)
}

// ========== Scheduled Tasks ==========

// ReclaimStale fails buffers stuck in processing after a worker crash
func (uc *BufferUsecase) ReclaimStale(ctx context.Context) (int64, error) {
	if uc.config.ReclaimAfter <= 0 {
		return 0, nil
	}
	now := uc.now()
	return uc.bufferRepo.ReclaimStale(ctx, now.Add(-uc.config.ReclaimAfter), now)
}

// Cleanup cleans up expired data
func (uc *BufferUsecase) Cleanup(ctx context.Context) (int64, error) {
	before := uc.now().Add(-uc.config.CleanupAge)
	return uc.bufferRepo.CleanupOld(ctx, before)
}
