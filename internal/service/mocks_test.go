package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
	"github.com/zapdesk/inbox-bridge/internal/data"
)

// Mock implementations

type sentText struct {
	number string
	text   string
}

type mockGateway struct {
	mu       sync.Mutex
	texts    []sentText
	presence []string
	err      error
}

func (m *mockGateway) SendText(ctx context.Context, instance *domain.Instance, number, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.texts = append(m.texts, sentText{number: number, text: text})
	return nil
}

func (m *mockGateway) SendPresence(ctx context.Context, instance *domain.Instance, number, presence string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, presence)
	return nil
}

func (m *mockGateway) sent() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentText(nil), m.texts...)
}

type mockAgentRepo struct {
	mu       sync.Mutex
	reply    string
	requests []*repo.AgentRequest
}

func (m *mockAgentRepo) Invoke(ctx context.Context, agent *domain.Agent, req *repo.AgentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.reply, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (m *mockPublisher) Publish(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// testEnv wires the service layer over a temporary SQLite database
type testEnv struct {
	convRepo     repo.ConversationRepo
	instanceRepo repo.InstanceRepo
	bufferRepo   repo.BufferRepo
	automation   interface {
		repo.RuleRepo
		repo.MacroRepo
	}
	gateway   *mockGateway
	agent     *mockAgentRepo
	publisher *mockPublisher
	bufferUC  *usecase.BufferUsecase
	engine    *usecase.TriggerEngine
	actions   *ActionService
	inbound   *InboundService
	events    *EventService
	processor *usecase.ProcessorUsecase
}

func newTestEnv(t *testing.T, window time.Duration) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := data.OpenDB(ctx, data.DriverSQLite, filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		convRepo:     data.NewConversationRepo(db),
		instanceRepo: data.NewInstanceRepo(db),
		bufferRepo:   data.NewBufferRepo(db),
		automation:   data.NewAutomationRepo(db),
		gateway:      &mockGateway{},
		agent:        &mockAgentRepo{reply: "We are open until 6pm"},
		publisher:    &mockPublisher{},
	}

	bufCfg := usecase.DefaultBufferConfig()
	bufCfg.DebounceWindow = window
	env.bufferUC = usecase.NewBufferUsecase(env.bufferRepo, bufCfg)

	env.actions = NewActionService(env.convRepo, env.instanceRepo, env.gateway, env.publisher)
	dispatcher := usecase.NewActionDispatcher(env.actions, env.automation)
	env.engine = usecase.NewTriggerEngine(env.automation, dispatcher, env.publisher, time.UTC)
	env.actions.SetEngine(env.engine)

	env.inbound = NewInboundService(env.convRepo, env.instanceRepo, env.bufferUC, env.engine, true)
	env.events = NewEventService(env.convRepo, env.engine)
	env.processor = usecase.NewProcessorUsecase(
		env.bufferRepo, env.convRepo, env.instanceRepo, env.agent, env.gateway, env.publisher,
		usecase.NewHumanizer(), usecase.DefaultProcessorConfig(),
	)

	if err := env.instanceRepo.SaveAgent(ctx, &domain.Agent{ID: "sofia", Name: "Sofia", Kind: domain.AgentKindWebhook, WebhookURL: "http://unused", IsActive: true}); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if err := env.instanceRepo.SaveInstance(ctx, &domain.Instance{ID: "inst-1", InstanceKey: "store", Token: "tok", DefaultAgentID: "sofia"}); err != nil {
		t.Fatalf("save instance: %v", err)
	}
	return env
}

func (e *testEnv) addRule(t *testing.T, rule *domain.AutomationRule) {
	t.Helper()
	rule.IsActive = true
	if err := e.automation.SaveRule(context.Background(), rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}
}

func labelAction(label string) domain.Action {
	return domain.Action{Type: domain.ActionAddLabel, Params: map[string]any{"label": label}}
}

func hasLabel(conv *domain.Conversation, label string) bool {
	for _, l := range conv.Labels {
		if l == label {
			return true
		}
	}
	return false
}
