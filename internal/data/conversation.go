package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

const conversationColumns = `id, instance_id, phone, contact_name, status, priority, ai_enabled,
	assigned_to, agent_id, last_message_at, last_message_preview, unread_count,
	snoozed_until, inactivity_fired_at, inactivity_fired_minutes, created_at, updated_at`

type conversationRow struct {
	ID                 string `db:"id"`
	InstanceID         string `db:"instance_id"`
	Phone              string `db:"phone"`
	ContactName        string `db:"contact_name"`
	Status             string `db:"status"`
	Priority           string `db:"priority"`
	AIEnabled          int    `db:"ai_enabled"`
	AssignedTo         string `db:"assigned_to"`
	AgentID            string `db:"agent_id"`
	LastMessageAt      int64  `db:"last_message_at"`
	LastMessagePreview string `db:"last_message_preview"`
	UnreadCount        int    `db:"unread_count"`
	SnoozedUntil       int64  `db:"snoozed_until"`
	InactivityFiredAt  int64  `db:"inactivity_fired_at"`
	InactivityMinutes  int    `db:"inactivity_fired_minutes"`
	CreatedAt          int64  `db:"created_at"`
	UpdatedAt          int64  `db:"updated_at"`
}

func (r *conversationRow) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:                     r.ID,
		InstanceID:             r.InstanceID,
		Phone:                  r.Phone,
		ContactName:            r.ContactName,
		Status:                 domain.ConversationStatus(r.Status),
		Priority:               r.Priority,
		AIEnabled:              r.AIEnabled != 0,
		AssignedTo:             r.AssignedTo,
		AgentID:                r.AgentID,
		LastMessageAt:          fromMillis(r.LastMessageAt),
		LastMessagePreview:     r.LastMessagePreview,
		UnreadCount:            r.UnreadCount,
		SnoozedUntil:           fromMillis(r.SnoozedUntil),
		InactivityFiredAt:      fromMillis(r.InactivityFiredAt),
		InactivityFiredMinutes: r.InactivityMinutes,
		CreatedAt:              fromMillis(r.CreatedAt),
		UpdatedAt:              fromMillis(r.UpdatedAt),
	}
}

type chatMessageRow struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"`
	Direction      string `db:"direction"`
	SenderType     string `db:"sender_type"`
	Content        string `db:"content"`
	MediaURL       string `db:"media_url"`
	MediaType      string `db:"media_type"`
	ExternalID     string `db:"external_id"`
	IsPrivate      int    `db:"is_private"`
	CreatedAt      int64  `db:"created_at"`
}

// conversationRepo implements the conversation repository
type conversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo creates a new conversation repository
func NewConversationRepo(db *sqlx.DB) repo.ConversationRepo {
	return &conversationRepo{db: db}
}

// GetConversation loads a conversation with its labels
func (r *conversationRepo) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var row conversationRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv := row.toDomain()

	if err := r.db.SelectContext(ctx, &conv.Labels, r.db.Rebind(`
		SELECT label FROM conversation_labels WHERE conversation_id = ? ORDER BY created_at ASC
	`), id); err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	return conv, nil
}

// FindOrCreate returns the conversation for (instance, phone), creating an open one
func (r *conversationRepo) FindOrCreate(ctx context.Context, instanceID, phone, contactName string, aiDefault bool, now time.Time) (*domain.Conversation, bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO conversations (id, instance_id, phone, contact_name, status, ai_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), uuid.NewString(), instanceID, phone, contactName, string(domain.ConversationOpen), boolInt(aiDefault), toMillis(now), toMillis(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}

	var row conversationRow
	err = r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+conversationColumns+` FROM conversations WHERE instance_id = ? AND phone = ?
	`), instanceID, phone)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query conversation: %w", err)
	}

	conv := row.toDomain()
	if n == 0 && contactName != "" && conv.ContactName == "" {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE conversations SET contact_name = ? WHERE id = ?`), contactName, conv.ID); err == nil {
			conv.ContactName = contactName
		}
	}
	return conv, n == 1, nil
}

// Touch records message activity on the conversation
func (r *conversationRepo) Touch(ctx context.Context, id, preview string, at time.Time, incrementUnread bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE conversations
		SET last_message_at = ?, last_message_preview = ?, unread_count = unread_count + ?, updated_at = ?
		WHERE id = ?
	`), toMillis(at), preview, boolInt(incrementUnread), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// SaveMessage stores a chat log row
func (r *conversationRepo) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO chat_messages (id, conversation_id, direction, sender_type, content, media_url, media_type, external_id, is_private, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.ConversationID, string(msg.Direction), string(msg.SenderType), msg.Content,
		msg.MediaURL, msg.MediaType, msg.ExternalID, boolInt(msg.IsPrivate), toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit public messages, oldest first
func (r *conversationRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.ChatMessage, error) {
	var rows []chatMessageRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, conversation_id, direction, sender_type, content, media_url, media_type, external_id, is_private, created_at
		FROM chat_messages
		WHERE conversation_id = ? AND is_private = 0
		ORDER BY created_at DESC
		LIMIT ?
	`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	msgs := make([]*domain.ChatMessage, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = &domain.ChatMessage{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Direction:      domain.Direction(row.Direction),
			SenderType:     domain.SenderType(row.SenderType),
			Content:        row.Content,
			MediaURL:       row.MediaURL,
			MediaType:      row.MediaType,
			ExternalID:     row.ExternalID,
			IsPrivate:      row.IsPrivate != 0,
			CreatedAt:      fromMillis(row.CreatedAt),
		}
	}
	return msgs, nil
}

func (r *conversationRepo) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE conversations SET `+set+` WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the inbox status
func (r *conversationRepo) UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus, now time.Time) error {
	return r.update(ctx, id, `status = ?, updated_at = ?`, string(status), toMillis(now))
}

// SetAIEnabled toggles AI replies
func (r *conversationRepo) SetAIEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	return r.update(ctx, id, `ai_enabled = ?, updated_at = ?`, boolInt(enabled), toMillis(now))
}

// SetPriority sets the priority
func (r *conversationRepo) SetPriority(ctx context.Context, id, priority string, now time.Time) error {
	return r.update(ctx, id, `priority = ?, updated_at = ?`, priority, toMillis(now))
}

// Assign hands the conversation to a human
func (r *conversationRepo) Assign(ctx context.Context, id, assignee string, now time.Time) error {
	return r.update(ctx, id, `assigned_to = ?, updated_at = ?`, assignee, toMillis(now))
}

// Snooze hides the conversation until the given time
func (r *conversationRepo) Snooze(ctx context.Context, id string, until, now time.Time) error {
	return r.update(ctx, id, `status = ?, snoozed_until = ?, updated_at = ?`,
		string(domain.ConversationSnoozed), toMillis(until), toMillis(now))
}

// AddLabel attaches a label; adding an existing label is a no-op
func (r *conversationRepo) AddLabel(ctx context.Context, id, label string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO conversation_labels (conversation_id, label, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`), id, label, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to add label: %w", err)
	}
	return nil
}

// ListInactive returns open conversations quiet since before that have not
// fired the minutes threshold since their last message
func (r *conversationRepo) ListInactive(ctx context.Context, before time.Time, minutes, limit int) ([]*domain.Conversation, error) {
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'open'
		  AND last_message_at > 0
		  AND last_message_at < ?
		  AND (inactivity_fired_at < last_message_at OR inactivity_fired_minutes < ?)
		ORDER BY last_message_at ASC
		LIMIT ?
	`), toMillis(before), minutes, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query inactive conversations: %w", err)
	}
	out := make([]*domain.Conversation, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// MarkInactivityFired records the largest threshold fired for the quiet period
func (r *conversationRepo) MarkInactivityFired(ctx context.Context, id string, at time.Time, minutes int) error {
	return r.update(ctx, id, `inactivity_fired_at = ?, inactivity_fired_minutes = ?`, toMillis(at), minutes)
}
