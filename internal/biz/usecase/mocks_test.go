package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

// Mock implementations

type mockBufferRepo struct {
	mu      sync.Mutex
	buffers map[string]*domain.MessageBuffer
	seq     int
	claims  int
}

func newMockBufferRepo() *mockBufferRepo {
	return &mockBufferRepo{buffers: make(map[string]*domain.MessageBuffer)}
}

func (m *mockBufferRepo) Append(ctx context.Context, req domain.AppendRequest, now time.Time, window time.Duration) (*domain.MessageBuffer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buffers {
		if b.ConversationID == req.ConversationID && b.Status == domain.BufferStatusBuffering {
			b.Append(req, now, window)
			b.Version++
			cp := *b
			return &cp, false, nil
		}
	}
	m.seq++
	b := domain.NewMessageBuffer(fmt.Sprintf("buf-%d", m.seq), req, now, window)
	m.buffers[b.ID] = b
	cp := *b
	return &cp, true, nil
}

func (m *mockBufferRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.MessageBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.MessageBuffer
	for _, b := range m.buffers {
		if b.IsDue(now) {
			cp := *b
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledResponseAt.Before(due[j].ScheduledResponseAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockBufferRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.MessageBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[id]
	if !ok || b.Status != domain.BufferStatusBuffering {
		return nil, domain.ErrBufferNotClaimable
	}
	m.claims++
	b.Status = domain.BufferStatusProcessing
	b.ClaimedAt = now
	cp := *b
	return &cp, nil
}

func (m *mockBufferRepo) finish(id string, status domain.BufferStatus, now time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	b.CompletedAt = now
	b.LastError = reason
	return nil
}

func (m *mockBufferRepo) Complete(ctx context.Context, id string, now time.Time) error {
	return m.finish(id, domain.BufferStatusCompleted, now, "")
}

func (m *mockBufferRepo) Fail(ctx context.Context, id string, now time.Time, reason string) error {
	return m.finish(id, domain.BufferStatusFailed, now, reason)
}

func (m *mockBufferRepo) ReclaimStale(ctx context.Context, claimedBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.buffers {
		if b.Status == domain.BufferStatusProcessing && b.ClaimedAt.Before(claimedBefore) {
			b.Status = domain.BufferStatusFailed
			b.LastError = "abandoned"
			n++
		}
	}
	return n, nil
}

func (m *mockBufferRepo) Get(ctx context.Context, id string) (*domain.MessageBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBufferRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*domain.MessageBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.MessageBuffer
	for _, b := range m.buffers {
		if b.ConversationID == conversationID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBufferRepo) GetBufferSummary(ctx context.Context) ([]*domain.BufferSummary, error) {
	return nil, nil
}

func (m *mockBufferRepo) CleanupOld(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type mockConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
	messages      []*domain.ChatMessage
	labels        map[string][]string
}

func newMockConversationRepo(convs ...*domain.Conversation) *mockConversationRepo {
	m := &mockConversationRepo{
		conversations: make(map[string]*domain.Conversation),
		labels:        make(map[string][]string),
	}
	for _, c := range convs {
		m.conversations[c.ID] = c
	}
	return m
}

func (m *mockConversationRepo) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockConversationRepo) FindOrCreate(ctx context.Context, instanceID, phone, contactName string, aiDefault bool, now time.Time) (*domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.InstanceID == instanceID && c.Phone == phone {
			cp := *c
			return &cp, false, nil
		}
	}
	c := &domain.Conversation{
		ID:          fmt.Sprintf("conv-%d", len(m.conversations)+1),
		InstanceID:  instanceID,
		Phone:       phone,
		ContactName: contactName,
		Status:      domain.ConversationOpen,
		AIEnabled:   aiDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.conversations[c.ID] = c
	cp := *c
	return &cp, true, nil
}

func (m *mockConversationRepo) Touch(ctx context.Context, id, preview string, at time.Time, incrementUnread bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.LastMessageAt = at
		c.LastMessagePreview = preview
		if incrementUnread {
			c.UnreadCount++
		}
	}
	return nil
}

func (m *mockConversationRepo) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockConversationRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ChatMessage
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && !msg.IsPrivate {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockConversationRepo) update(id string, fn func(c *domain.Conversation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	return nil
}

func (m *mockConversationRepo) UpdateStatus(ctx context.Context, id string, status domain.ConversationStatus, now time.Time) error {
	return m.update(id, func(c *domain.Conversation) { c.Status = status })
}

func (m *mockConversationRepo) SetAIEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	return m.update(id, func(c *domain.Conversation) { c.AIEnabled = enabled })
}

func (m *mockConversationRepo) SetPriority(ctx context.Context, id, priority string, now time.Time) error {
	return m.update(id, func(c *domain.Conversation) { c.Priority = priority })
}

func (m *mockConversationRepo) Assign(ctx context.Context, id, assignee string, now time.Time) error {
	return m.update(id, func(c *domain.Conversation) { c.AssignedTo = assignee })
}

func (m *mockConversationRepo) Snooze(ctx context.Context, id string, until, now time.Time) error {
	return m.update(id, func(c *domain.Conversation) {
		c.Status = domain.ConversationSnoozed
		c.SnoozedUntil = until
	})
}

func (m *mockConversationRepo) AddLabel(ctx context.Context, id, label string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[id] = append(m.labels[id], label)
	return nil
}

func (m *mockConversationRepo) ListInactive(ctx context.Context, before time.Time, minutes, limit int) ([]*domain.Conversation, error) {
	return nil, nil
}

func (m *mockConversationRepo) MarkInactivityFired(ctx context.Context, id string, at time.Time, minutes int) error {
	return nil
}

type mockInstanceRepo struct {
	instances map[string]*domain.Instance
	agents    map[string]*domain.Agent
}

func (m *mockInstanceRepo) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	if i, ok := m.instances[id]; ok {
		return i, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockInstanceRepo) GetInstanceByKey(ctx context.Context, key string) (*domain.Instance, error) {
	for _, i := range m.instances {
		if i.InstanceKey == key {
			return i, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockInstanceRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	if a, ok := m.agents[id]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockInstanceRepo) SaveInstance(ctx context.Context, instance *domain.Instance) error {
	m.instances[instance.ID] = instance
	return nil
}

func (m *mockInstanceRepo) SaveAgent(ctx context.Context, agent *domain.Agent) error {
	m.agents[agent.ID] = agent
	return nil
}

type mockAgentRepo struct {
	mu       sync.Mutex
	reply    string
	err      error
	panicMsg string
	requests []*repo.AgentRequest
}

func (m *mockAgentRepo) Invoke(ctx context.Context, agent *domain.Agent, req *repo.AgentRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.reply, m.err
}

type gatewayCall struct {
	kind   string
	number string
	value  string
	ctxErr error
}

type mockGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	sendErr error
}

func (m *mockGateway) SendText(ctx context.Context, instance *domain.Instance, number, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{kind: "text", number: number, value: text, ctxErr: ctx.Err()})
	return m.sendErr
}

func (m *mockGateway) SendPresence(ctx context.Context, instance *domain.Instance, number, presence string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{kind: "presence", number: number, value: presence, ctxErr: ctx.Err()})
	return nil
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

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type mockRuleRepo struct {
	rules []*domain.AutomationRule
	calls int
}

func (m *mockRuleRepo) ListRules(ctx context.Context, eventType domain.EventType) ([]*domain.AutomationRule, error) {
	m.calls++
	var out []*domain.AutomationRule
	for _, r := range m.rules {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *mockRuleRepo) SaveRule(ctx context.Context, rule *domain.AutomationRule) error {
	m.rules = append(m.rules, rule)
	return nil
}

type mockMacroRepo struct {
	macros map[string]*domain.Macro
}

func (m *mockMacroRepo) GetMacro(ctx context.Context, id string) (*domain.Macro, error) {
	if mac, ok := m.macros[id]; ok {
		return mac, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockMacroRepo) SaveMacro(ctx context.Context, macro *domain.Macro) error {
	m.macros[macro.ID] = macro
	return nil
}

// recordingHandler records every action as "type:arg"
type recordingHandler struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	snoozed time.Time
}

func (h *recordingHandler) record(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	if h.failOn != "" && call == h.failOn {
		return fmt.Errorf("handler refused %s", call)
	}
	return nil
}

func (h *recordingHandler) SendMessage(ctx context.Context, ec domain.EventContext, text string) error {
	return h.record("send_message:" + text)
}

func (h *recordingHandler) SendPrivateNote(ctx context.Context, ec domain.EventContext, text string) error {
	return h.record("send_private_note:" + text)
}

func (h *recordingHandler) AddLabel(ctx context.Context, ec domain.EventContext, label string) error {
	return h.record("add_label:" + label)
}

func (h *recordingHandler) Resolve(ctx context.Context, ec domain.EventContext) error {
	return h.record("resolve")
}

func (h *recordingHandler) ToggleAI(ctx context.Context, ec domain.EventContext, enabled bool) error {
	return h.record(fmt.Sprintf("toggle_ai:%t", enabled))
}

func (h *recordingHandler) Snooze(ctx context.Context, ec domain.EventContext, until time.Time) error {
	h.snoozed = until
	return h.record("snooze")
}

func (h *recordingHandler) SetPriority(ctx context.Context, ec domain.EventContext, priority string) error {
	return h.record("set_priority:" + priority)
}

func (h *recordingHandler) AssignAgent(ctx context.Context, ec domain.EventContext, assignee string) error {
	return h.record("assign_agent:" + assignee)
}

// recordingSleeper captures humanizer waits instead of sleeping
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}
