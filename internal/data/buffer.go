package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

// maxAppendAttempts bounds the optimistic append loop
const maxAppendAttempts = 5

const bufferColumns = `id, conversation_id, instance_id, phone, agent_id, messages,
	first_message_at, last_message_at, scheduled_response_at, status,
	claimed_at, completed_at, last_error, version, created_at`

type bufferRow struct {
	ID                  string `db:"id"`
	ConversationID      string `db:"conversation_id"`
	InstanceID          string `db:"instance_id"`
	Phone               string `db:"phone"`
	AgentID             string `db:"agent_id"`
	Messages            string `db:"messages"`
	FirstMessageAt      int64  `db:"first_message_at"`
	LastMessageAt       int64  `db:"last_message_at"`
	ScheduledResponseAt int64  `db:"scheduled_response_at"`
	Status              string `db:"status"`
	ClaimedAt           int64  `db:"claimed_at"`
	CompletedAt         int64  `db:"completed_at"`
	LastError           string `db:"last_error"`
	Version             int64  `db:"version"`
	CreatedAt           int64  `db:"created_at"`
}

func (r *bufferRow) toDomain() (*domain.MessageBuffer, error) {
	var msgs []domain.BufferedMessage
	if err := json.Unmarshal([]byte(r.Messages), &msgs); err != nil {
		return nil, fmt.Errorf("decode buffer %s messages: %w", r.ID, err)
	}
	return &domain.MessageBuffer{
		ID:                  r.ID,
		ConversationID:      r.ConversationID,
		InstanceID:          r.InstanceID,
		Phone:               r.Phone,
		AgentID:             r.AgentID,
		Messages:            msgs,
		FirstMessageAt:      fromMillis(r.FirstMessageAt),
		LastMessageAt:       fromMillis(r.LastMessageAt),
		ScheduledResponseAt: fromMillis(r.ScheduledResponseAt),
		Status:              domain.BufferStatus(r.Status),
		ClaimedAt:           fromMillis(r.ClaimedAt),
		CompletedAt:         fromMillis(r.CompletedAt),
		LastError:           r.LastError,
		Version:             r.Version,
		CreatedAt:           fromMillis(r.CreatedAt),
	}, nil
}

// bufferRepo implements the message buffer repository
type bufferRepo struct {
	db *sqlx.DB
}

// NewBufferRepo creates a new message buffer repository
func NewBufferRepo(db *sqlx.DB) repo.BufferRepo {
	return &bufferRepo{db: db}
}

// Append adds the message to the conversation's buffering buffer or starts one.
// Concurrent writers are serialized by the version check and the partial
// unique index on buffering rows.
func (r *bufferRepo) Append(ctx context.Context, req domain.AppendRequest, now time.Time, window time.Duration) (*domain.MessageBuffer, bool, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		buf, err := r.activeBuffer(ctx, req.ConversationID)
		if errors.Is(err, domain.ErrNotFound) {
			buf = domain.NewMessageBuffer(uuid.NewString(), req, now, window)
			inserted, err := r.insert(ctx, buf)
			if err != nil {
				return nil, false, err
			}
			if inserted {
				return buf, true, nil
			}
			// Another writer created the buffer first; append to theirs
			continue
		}
		if err != nil {
			return nil, false, err
		}

		prev := buf.Version
		buf.Append(req, now, window)
		buf.Version = prev + 1
		ok, err := r.compareAndSwap(ctx, buf, prev)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return buf, false, nil
		}
	}
	return nil, false, fmt.Errorf("conversation %s: %w", req.ConversationID, domain.ErrAppendContention)
}

func (r *bufferRepo) activeBuffer(ctx context.Context, conversationID string) (*domain.MessageBuffer, error) {
	var row bufferRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+bufferColumns+`
		FROM message_buffers
		WHERE conversation_id = ? AND status = 'buffering'
	`), conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active buffer: %w", err)
	}
	return row.toDomain()
}

func (r *bufferRepo) insert(ctx context.Context, buf *domain.MessageBuffer) (bool, error) {
	msgs, err := json.Marshal(buf.Messages)
	if err != nil {
		return false, fmt.Errorf("encode buffer messages: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO message_buffers (`+bufferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`),
		buf.ID, buf.ConversationID, buf.InstanceID, buf.Phone, buf.AgentID, string(msgs),
		toMillis(buf.FirstMessageAt), toMillis(buf.LastMessageAt), toMillis(buf.ScheduledResponseAt),
		string(buf.Status), toMillis(buf.ClaimedAt), toMillis(buf.CompletedAt), buf.LastError,
		buf.Version, toMillis(buf.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert buffer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert buffer: %w", err)
	}
	return n == 1, nil
}

func (r *bufferRepo) compareAndSwap(ctx context.Context, buf *domain.MessageBuffer, prevVersion int64) (bool, error) {
	msgs, err := json.Marshal(buf.Messages)
	if err != nil {
		return false, fmt.Errorf("encode buffer messages: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE message_buffers
		SET messages = ?, last_message_at = ?, scheduled_response_at = ?, agent_id = ?, version = ?
		WHERE id = ? AND status = 'buffering' AND version = ?
	`),
		string(msgs), toMillis(buf.LastMessageAt), toMillis(buf.ScheduledResponseAt), buf.AgentID, buf.Version,
		buf.ID, prevVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update buffer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update buffer: %w", err)
	}
	return n == 1, nil
}

// ListDue returns buffering buffers whose window has elapsed, oldest schedule first
func (r *bufferRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.MessageBuffer, error) {
	var rows []bufferRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+bufferColumns+`
		FROM message_buffers
		WHERE status = 'buffering' AND scheduled_response_at <= ?
		ORDER BY scheduled_response_at ASC
		LIMIT ?
	`), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due buffers: %w", err)
	}
	return toBuffers(rows)
}

// Claim moves a buffering buffer to processing in one conditional update
func (r *bufferRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.MessageBuffer, error) {
	var row bufferRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		UPDATE message_buffers
		SET status = 'processing', claimed_at = ?, version = version + 1
		WHERE id = ? AND status = 'buffering'
		RETURNING `+bufferColumns), toMillis(now), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBufferNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim buffer: %w", err)
	}
	return row.toDomain()
}

// Complete marks a processing buffer completed
func (r *bufferRepo) Complete(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE message_buffers
		SET status = 'completed', completed_at = ?, version = version + 1
		WHERE id = ? AND status = 'processing'
	`), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to complete buffer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete buffer: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("processing buffer %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Fail marks a non-terminal buffer failed with the reason
func (r *bufferRepo) Fail(ctx context.Context, id string, now time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE message_buffers
		SET status = 'failed', completed_at = ?, last_error = ?, version = version + 1
		WHERE id = ? AND status IN ('buffering', 'processing')
	`), toMillis(now), reason, id)
	if err != nil {
		return fmt.Errorf("failed to fail buffer: %w", err)
	}
	return nil
}

// ReclaimStale fails processing buffers claimed before claimedBefore
func (r *bufferRepo) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE message_buffers
		SET status = 'failed', completed_at = ?, last_error = 'abandoned', version = version + 1
		WHERE status = 'processing' AND claimed_at < ?
	`), toMillis(now), toMillis(claimedBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim buffers: %w", err)
	}
	return res.RowsAffected()
}

// Get returns a buffer by id
func (r *bufferRepo) Get(ctx context.Context, id string) (*domain.MessageBuffer, error) {
	var row bufferRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+bufferColumns+` FROM message_buffers WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query buffer: %w", err)
	}
	return row.toDomain()
}

// ListByConversation returns the newest buffers of a conversation first
func (r *bufferRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MessageBuffer, error) {
	var rows []bufferRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+bufferColumns+`
		FROM message_buffers
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query buffers: %w", err)
	}
	return toBuffers(rows)
}

// GetBufferSummary gets the non-terminal buffers per conversation
func (r *bufferRepo) GetBufferSummary(ctx context.Context) ([]*domain.BufferSummary, error) {
	var rows []bufferRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+bufferColumns+`
		FROM message_buffers
		WHERE status IN ('buffering', 'processing')
		ORDER BY scheduled_response_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buffer summary: %w", err)
	}
	bufs, err := toBuffers(rows)
	if err != nil {
		return nil, err
	}

	summaries := make([]*domain.BufferSummary, 0, len(bufs))
	for _, b := range bufs {
		summaries = append(summaries, &domain.BufferSummary{
			ConversationID: b.ConversationID,
			Phone:          b.Phone,
			Status:         string(b.Status),
			MessageCount:   len(b.Messages),
			ScheduledAt:    b.ScheduledResponseAt,
			LastMessage:    b.LastMessageAt,
		})
	}
	return summaries, nil
}

// CleanupOld deletes terminal buffers created before the cutoff
func (r *bufferRepo) CleanupOld(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM message_buffers
		WHERE status IN ('completed', 'failed') AND created_at < ?
	`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup buffers: %w", err)
	}
	return res.RowsAffected()
}

func toBuffers(rows []bufferRow) ([]*domain.MessageBuffer, error) {
	out := make([]*domain.MessageBuffer, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
