package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

func newConversation(t *testing.T, env *testEnv) *domain.Conversation {
	t.Helper()
	conv, _, err := env.convRepo.FindOrCreate(context.Background(), "inst-1", "5511999990000", "Maria", true, time.Now())
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	return conv
}

func TestActions_SendMessage(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	conv := newConversation(t, env)

	ec := domain.EventContextFor(conv, time.Now())
	if err := env.actions.SendMessage(ctx, ec, "Thanks for writing!"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	sent := env.gateway.sent()
	if len(sent) != 1 || sent[0].text != "Thanks for writing!" || sent[0].number != "5511999990000" {
		t.Errorf("Unexpected gateway calls: %+v", sent)
	}
	msgs, _ := env.convRepo.RecentMessages(ctx, conv.ID, 10)
	if len(msgs) != 1 || msgs[0].SenderType != domain.SenderAutomation {
		t.Errorf("Expected automation message in log, got %+v", msgs)
	}
}

func TestActions_SendMessageGatewayError(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	conv := newConversation(t, env)
	env.gateway.err = errors.New("gateway down")

	err := env.actions.SendMessage(context.Background(), domain.EventContextFor(conv, time.Now()), "hi")
	if err == nil {
		t.Fatal("Expected gateway error to fail the action")
	}
	msgs, _ := env.convRepo.RecentMessages(context.Background(), conv.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("Expected nothing logged for an unsent message, got %d", len(msgs))
	}
}

func TestActions_PrivateNoteHiddenFromHistory(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	conv := newConversation(t, env)

	if err := env.actions.SendPrivateNote(ctx, domain.EventContextFor(conv, time.Now()), "VIP customer"); err != nil {
		t.Fatalf("SendPrivateNote failed: %v", err)
	}
	msgs, _ := env.convRepo.RecentMessages(ctx, conv.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("Expected private notes to stay out of agent history, got %d", len(msgs))
	}
	if len(env.gateway.sent()) != 0 {
		t.Error("Expected private note not to be sent to the contact")
	}
}

func TestActions_ResolveFiresResolvedOnce(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	conv := newConversation(t, env)
	env.addRule(t, &domain.AutomationRule{ID: "closed", Name: "closed", EventType: domain.EventConversationResolved,
		Actions: []domain.Action{labelAction("closed"), {Type: domain.ActionResolve}}})

	ec := domain.EventContextFor(conv, time.Now())
	if err := env.actions.Resolve(ctx, ec); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	got, _ := env.convRepo.GetConversation(ctx, conv.ID)
	if got.Status != domain.ConversationResolved {
		t.Errorf("Expected resolved, got %s", got.Status)
	}
	if !hasLabel(got, "closed") {
		t.Error("Expected conversation_resolved rule to run")
	}
	if n := env.publisher.count(domain.TopicAutomationExecuted); n != 1 {
		t.Errorf("Expected the resolved rule to run once, got %d", n)
	}
}

func TestActions_AssignFiresAssigned(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	conv := newConversation(t, env)
	env.addRule(t, &domain.AutomationRule{ID: "handoff", Name: "handoff", EventType: domain.EventConversationAssigned,
		Actions: []domain.Action{{Type: domain.ActionToggleAI, Params: map[string]any{"enabled": false}}}})

	ec := domain.EventContextFor(conv, time.Now())
	if err := env.actions.AssignAgent(ctx, ec, "user-7"); err != nil {
		t.Fatalf("AssignAgent failed: %v", err)
	}
	if err := env.actions.AssignAgent(ctx, ec, "user-7"); err != nil {
		t.Fatalf("AssignAgent failed: %v", err)
	}

	got, _ := env.convRepo.GetConversation(ctx, conv.ID)
	if got.AssignedTo != "user-7" || got.AIEnabled {
		t.Errorf("Expected assigned with AI off, got assigned=%s ai=%v", got.AssignedTo, got.AIEnabled)
	}
	if n := env.publisher.count(domain.TopicAutomationExecuted); n != 1 {
		t.Errorf("Expected one assigned trigger, got %d", n)
	}
}

func TestActions_MacroThroughDispatcher(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()
	conv := newConversation(t, env)

	if err := env.automation.SaveMacro(ctx, &domain.Macro{ID: "bye", Name: "bye", Actions: []domain.Action{
		{Type: domain.ActionSendMessage, Params: map[string]any{"message": "Bye!"}},
		{Type: domain.ActionSnooze, Params: map[string]any{"minutes": 15}},
	}}); err != nil {
		t.Fatal(err)
	}
	env.addRule(t, &domain.AutomationRule{ID: "r", Name: "r", EventType: domain.EventMessageCreated,
		Conditions: domain.Conditions{Keywords: "bye"},
		Actions:    []domain.Action{{Type: domain.ActionExecuteMacro, Params: map[string]any{"macro_id": "bye"}}}})

	msg := &domain.ChatMessage{ID: "m1", ConversationID: conv.ID, Direction: domain.DirectionInbound, Content: "ok bye", CreatedAt: time.Now()}
	if err := env.engine.TriggerMessageCreated(ctx, conv, msg); err != nil {
		t.Fatalf("TriggerMessageCreated failed: %v", err)
	}

	got, _ := env.convRepo.GetConversation(ctx, conv.ID)
	if got.Status != domain.ConversationSnoozed {
		t.Errorf("Expected snoozed, got %s", got.Status)
	}
	if sent := env.gateway.sent(); len(sent) != 1 || sent[0].text != "Bye!" {
		t.Errorf("Expected macro message, got %+v", sent)
	}
	if env.publisher.count(domain.TopicConversationUpdated) == 0 {
		t.Error("Expected conversation.updated event")
	}
}
