package repo

import (
	"context"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

// BufferRepo is the message buffer repository interface
type BufferRepo interface {
	// Append adds a message to the conversation's buffering buffer, or starts one.
	// created is true when a new buffer row was inserted.
	Append(ctx context.Context, req domain.AppendRequest, now time.Time, window time.Duration) (buf *domain.MessageBuffer, created bool, err error)

	// ListDue returns buffering buffers whose scheduled response time has passed
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.MessageBuffer, error)

	// Claim atomically moves a buffer from buffering to processing.
	// Returns domain.ErrBufferNotClaimable if another worker got there first.
	Claim(ctx context.Context, id string, now time.Time) (*domain.MessageBuffer, error)

	Complete(ctx context.Context, id string, now time.Time) error
	Fail(ctx context.Context, id string, now time.Time, reason string) error

	// ReclaimStale fails processing buffers claimed before the cutoff
	ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error)

	Get(ctx context.Context, id string) (*domain.MessageBuffer, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MessageBuffer, error)
	GetBufferSummary(ctx context.Context) ([]*domain.BufferSummary, error)
	CleanupOld(ctx context.Context, before time.Time) (int64, error)
}
