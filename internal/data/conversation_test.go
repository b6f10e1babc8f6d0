package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

func TestConversationRepo_FindOrCreate(t *testing.T) {
	ctx := context.Background()
	r := NewConversationRepo(openTestDB(t))
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	conv, created, err := r.FindOrCreate(ctx, "inst-1", "5511999990000", "", true, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.ConversationOpen, conv.Status)
	assert.True(t, conv.AIEnabled)

	again, created, err := r.FindOrCreate(ctx, "inst-1", "5511999990000", "Maria", true, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, "Maria", again.ContactName)

	other, created, err := r.FindOrCreate(ctx, "inst-2", "5511999990000", "", false, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)
	assert.False(t, other.AIEnabled)
}

func TestConversationRepo_MessagesAndTouch(t *testing.T) {
	ctx := context.Background()
	r := NewConversationRepo(openTestDB(t))
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	conv, _, err := r.FindOrCreate(ctx, "inst-1", "5511", "", true, t0)
	require.NoError(t, err)

	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, r.SaveMessage(ctx, &domain.ChatMessage{
			ConversationID: conv.ID,
			Direction:      domain.DirectionInbound,
			SenderType:     domain.SenderContact,
			Content:        content,
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, r.SaveMessage(ctx, &domain.ChatMessage{
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderAutomation,
		Content:        "internal note",
		IsPrivate:      true,
		CreatedAt:      t0.Add(10 * time.Second),
	}))

	msgs, err := r.RecentMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	require.NoError(t, r.Touch(ctx, conv.ID, "three", t0.Add(2*time.Second), true))
	require.NoError(t, r.Touch(ctx, conv.ID, "three", t0.Add(2*time.Second), true))
	got, err := r.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	assert.Equal(t, "three", got.LastMessagePreview)
	assert.True(t, got.LastMessageAt.Equal(t0.Add(2*time.Second)))
}

func TestConversationRepo_Updates(t *testing.T) {
	ctx := context.Background()
	r := NewConversationRepo(openTestDB(t))
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	conv, _, err := r.FindOrCreate(ctx, "inst-1", "5511", "", true, now)
	require.NoError(t, err)

	require.NoError(t, r.SetPriority(ctx, conv.ID, "high", now))
	require.NoError(t, r.Assign(ctx, conv.ID, "user-7", now))
	require.NoError(t, r.SetAIEnabled(ctx, conv.ID, false, now))
	require.NoError(t, r.AddLabel(ctx, conv.ID, "vip", now))
	require.NoError(t, r.AddLabel(ctx, conv.ID, "vip", now))
	require.NoError(t, r.Snooze(ctx, conv.ID, now.Add(time.Hour), now))

	got, err := r.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, "user-7", got.AssignedTo)
	assert.False(t, got.AIEnabled)
	assert.Equal(t, []string{"vip"}, got.Labels)
	assert.Equal(t, domain.ConversationSnoozed, got.Status)
	assert.True(t, got.SnoozedUntil.Equal(now.Add(time.Hour)))
	assert.False(t, got.ShouldAIRespond())

	assert.ErrorIs(t, r.UpdateStatus(ctx, "missing", domain.ConversationResolved, now), domain.ErrNotFound)
}

func TestConversationRepo_ListInactive(t *testing.T) {
	ctx := context.Background()
	r := NewConversationRepo(openTestDB(t))
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	quiet, _, _ := r.FindOrCreate(ctx, "inst-1", "1111", "", true, t0)
	busy, _, _ := r.FindOrCreate(ctx, "inst-1", "2222", "", true, t0)
	require.NoError(t, r.Touch(ctx, quiet.ID, "old", t0, true))
	require.NoError(t, r.Touch(ctx, busy.ID, "new", t0.Add(50*time.Minute), true))

	before := t0.Add(30 * time.Minute)
	list, err := r.ListInactive(ctx, before, 30, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, quiet.ID, list[0].ID)
	assert.Zero(t, list[0].InactivityAfter())

	// the 30 minute threshold fires once per last message
	require.NoError(t, r.MarkInactivityFired(ctx, quiet.ID, t0.Add(31*time.Minute), 30))
	list, err = r.ListInactive(ctx, before, 30, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	// a larger threshold is still pending for the same quiet period
	list, err = r.ListInactive(ctx, t0.Add(-time.Minute), 120, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 30, list[0].InactivityAfter())

	// a new message re-arms it
	require.NoError(t, r.Touch(ctx, quiet.ID, "back", t0.Add(40*time.Minute), true))
	list, err = r.ListInactive(ctx, t0.Add(2*time.Hour), 30, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, c := range list {
		assert.Zero(t, c.InactivityAfter())
	}
}

func TestInstanceRepo_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewInstanceRepo(openTestDB(t))

	require.NoError(t, r.SaveAgent(ctx, &domain.Agent{
		ID: "agent-1", Name: "Sofia", Kind: domain.AgentKindNative, SystemPrompt: "Be kind",
		ResponseDelayMinSeconds: 2, ResponseDelayMaxSeconds: 5, TypingSimulation: true, IsActive: true,
	}))
	require.NoError(t, r.SaveInstance(ctx, &domain.Instance{ID: "inst-1", InstanceKey: "main", Token: "tok", DefaultAgentID: "agent-1"}))
	require.NoError(t, r.SaveInstance(ctx, &domain.Instance{ID: "inst-1", InstanceKey: "main", Token: "tok2", DefaultAgentID: "agent-1"}))

	inst, err := r.GetInstanceByKey(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", inst.ID)
	assert.Equal(t, "tok2", inst.Token)

	agent, err := r.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentKindNative, agent.Kind)
	assert.True(t, agent.TypingSimulation)
	assert.Equal(t, 5, agent.ResponseDelayMaxSeconds)

	_, err = r.GetInstance(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
