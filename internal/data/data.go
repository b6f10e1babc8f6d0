package data

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/infra/rabbitmq"
	"github.com/zapdesk/inbox-bridge/internal/infra/uazapi"
)

// Repositories contains all repositories
type Repositories struct {
	DB           *sqlx.DB
	Buffer       repo.BufferRepo
	Conversation repo.ConversationRepo
	Instance     repo.InstanceRepo
	Rules        repo.RuleRepo
	Macros       repo.MacroRepo
	Agent        repo.AgentRepo
	Gateway      repo.GatewayRepo
	Events       repo.EventPublisher
}

// Clients are the external clients repositories wrap. Any may be nil
// except Gateway.
type Clients struct {
	Gateway      *uazapi.Client
	LLM          ChatCompleter
	Broker       *rabbitmq.Client
	AgentTimeout time.Duration
}

// NewRepositories creates all repositories over an open database
func NewRepositories(db *sqlx.DB, clients Clients) *Repositories {
	automation := NewAutomationRepo(db)
	return &Repositories{
		DB:           db,
		Buffer:       NewBufferRepo(db),
		Conversation: NewConversationRepo(db),
		Instance:     NewInstanceRepo(db),
		Rules:        automation,
		Macros:       automation,
		Agent:        NewAgentRepo(clients.LLM, clients.AgentTimeout),
		Gateway:      NewGatewayRepo(clients.Gateway),
		Events:       NewEventPublisher(clients.Broker),
	}
}

// Seed upserts configured instances, agents, rules and macros
func (r *Repositories) Seed(ctx context.Context, instances []*domain.Instance, agents []*domain.Agent, rules []*domain.AutomationRule, macros []*domain.Macro) error {
	for _, a := range agents {
		if err := r.Instance.SaveAgent(ctx, a); err != nil {
			return err
		}
	}
	for _, inst := range instances {
		if err := r.Instance.SaveInstance(ctx, inst); err != nil {
			return err
		}
	}
	for _, m := range macros {
		if err := r.Macros.SaveMacro(ctx, m); err != nil {
			return err
		}
	}
	for _, rule := range rules {
		if err := r.Rules.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database
func (r *Repositories) Close() error {
	return r.DB.Close()
}
