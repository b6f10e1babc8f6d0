package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

type instanceRow struct {
	ID             string `db:"id"`
	InstanceKey    string `db:"instance_key"`
	Name           string `db:"name"`
	Token          string `db:"token"`
	DefaultAgentID string `db:"default_agent_id"`
}

type agentRow struct {
	ID               string `db:"id"`
	Name             string `db:"name"`
	Kind             string `db:"kind"`
	WebhookURL       string `db:"webhook_url"`
	SystemPrompt     string `db:"system_prompt"`
	Model            string `db:"model"`
	DelayMin         int    `db:"response_delay_min"`
	DelayMax         int    `db:"response_delay_max"`
	TypingSimulation int    `db:"typing_simulation"`
	IsActive         int    `db:"is_active"`
}

// instanceRepo implements the instance and agent repository
type instanceRepo struct {
	db *sqlx.DB
}

// NewInstanceRepo creates a new instance repository
func NewInstanceRepo(db *sqlx.DB) repo.InstanceRepo {
	return &instanceRepo{db: db}
}

func (r *instanceRepo) getInstance(ctx context.Context, where string, arg string) (*domain.Instance, error) {
	var row instanceRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, instance_key, name, token, default_agent_id FROM whatsapp_instances WHERE `+where+` = ?
	`), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query instance: %w", err)
	}
	return &domain.Instance{
		ID:             row.ID,
		InstanceKey:    row.InstanceKey,
		Name:           row.Name,
		Token:          row.Token,
		DefaultAgentID: row.DefaultAgentID,
	}, nil
}

// GetInstance looks up an instance by id
func (r *instanceRepo) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	return r.getInstance(ctx, "id", id)
}

// GetInstanceByKey looks up an instance by its gateway key
func (r *instanceRepo) GetInstanceByKey(ctx context.Context, key string) (*domain.Instance, error) {
	return r.getInstance(ctx, "instance_key", key)
}

// GetAgent looks up an agent by id
func (r *instanceRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	var row agentRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, name, kind, webhook_url, system_prompt, model, response_delay_min, response_delay_max, typing_simulation, is_active
		FROM agents WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return &domain.Agent{
		ID:                      row.ID,
		Name:                    row.Name,
		Kind:                    domain.AgentKind(row.Kind),
		WebhookURL:              row.WebhookURL,
		SystemPrompt:            row.SystemPrompt,
		Model:                   row.Model,
		ResponseDelayMinSeconds: row.DelayMin,
		ResponseDelayMaxSeconds: row.DelayMax,
		TypingSimulation:        row.TypingSimulation != 0,
		IsActive:                row.IsActive != 0,
	}, nil
}

// SaveInstance upserts an instance
func (r *instanceRepo) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO whatsapp_instances (id, instance_key, name, token, default_agent_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			instance_key = excluded.instance_key,
			name = excluded.name,
			token = excluded.token,
			default_agent_id = excluded.default_agent_id
	`), inst.ID, inst.InstanceKey, inst.Name, inst.Token, inst.DefaultAgentID)
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}
	return nil
}

// SaveAgent upserts an agent
func (r *instanceRepo) SaveAgent(ctx context.Context, a *domain.Agent) error {
	kind := a.Kind
	if kind == "" {
		kind = domain.AgentKindWebhook
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agents (id, name, kind, webhook_url, system_prompt, model, response_delay_min, response_delay_max, typing_simulation, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			webhook_url = excluded.webhook_url,
			system_prompt = excluded.system_prompt,
			model = excluded.model,
			response_delay_min = excluded.response_delay_min,
			response_delay_max = excluded.response_delay_max,
			typing_simulation = excluded.typing_simulation,
			is_active = excluded.is_active
	`), a.ID, a.Name, string(kind), a.WebhookURL, a.SystemPrompt, a.Model,
		a.ResponseDelayMinSeconds, a.ResponseDelayMaxSeconds, boolInt(a.TypingSimulation), boolInt(a.IsActive))
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}
