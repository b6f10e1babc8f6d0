package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

func TestAutomationRepo_RulesOrderedByPosition(t *testing.T) {
	ctx := context.Background()
	r := NewAutomationRepo(openTestDB(t))

	rules := []*domain.AutomationRule{
		{ID: "r-b", Name: "second", EventType: domain.EventMessageCreated, Position: 2, IsActive: true,
			Actions: []domain.Action{{Type: domain.ActionAddLabel, Params: map[string]any{"label": "b"}}}},
		{ID: "r-a", Name: "first", EventType: domain.EventMessageCreated, Position: 1, IsActive: false,
			Conditions: domain.Conditions{Keywords: "price", TimeRange: &domain.TimeRange{StartHour: 9, EndHour: 18}},
			Actions:    []domain.Action{{Type: domain.ActionSnooze, Params: map[string]any{"minutes": 30}}}},
		{ID: "r-c", Name: "other", EventType: domain.EventConversationCreated, IsActive: true},
	}
	for _, rule := range rules {
		require.NoError(t, r.SaveRule(ctx, rule))
	}

	got, err := r.ListRules(ctx, domain.EventMessageCreated)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r-a", got[0].ID)
	assert.False(t, got[0].IsActive)
	assert.Equal(t, "price", got[0].Conditions.Keywords)
	require.NotNil(t, got[0].Conditions.TimeRange)
	assert.Equal(t, 18, got[0].Conditions.TimeRange.EndHour)
	assert.Equal(t, 30, got[0].Actions[0].IntParam("minutes", 0))
	assert.Equal(t, "r-b", got[1].ID)
}

func TestAutomationRepo_Macros(t *testing.T) {
	ctx := context.Background()
	r := NewAutomationRepo(openTestDB(t))

	require.NoError(t, r.SaveMacro(ctx, &domain.Macro{
		ID:   "m1",
		Name: "close politely",
		Actions: []domain.Action{
			{Type: domain.ActionSendMessage, Params: map[string]any{"message": "Thanks!"}},
			{Type: domain.ActionResolve},
		},
	}))

	macro, err := r.GetMacro(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, macro.Actions, 2)
	assert.Equal(t, "Thanks!", macro.Actions[0].StringParam("message"))

	_, err = r.GetMacro(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
