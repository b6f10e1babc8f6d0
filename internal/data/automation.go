package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

type ruleRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	EventType  string `db:"event_type"`
	Conditions string `db:"conditions"`
	Actions    string `db:"actions"`
	IsActive   int    `db:"is_active"`
	Position   int    `db:"position"`
}

type macroRow struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Actions string `db:"actions"`
}

// automationRepo stores automation rules and macros
type automationRepo struct {
	db *sqlx.DB
}

// NewAutomationRepo creates a repository serving both rules and macros
func NewAutomationRepo(db *sqlx.DB) *automationRepo {
	return &automationRepo{db: db}
}

var (
	_ repo.RuleRepo  = (*automationRepo)(nil)
	_ repo.MacroRepo = (*automationRepo)(nil)
)

// ListRules returns the rules for eventType ordered by position
func (r *automationRepo) ListRules(ctx context.Context, eventType domain.EventType) ([]*domain.AutomationRule, error) {
	var rows []ruleRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT id, name, event_type, conditions, actions, is_active, position
		FROM automation_rules
		WHERE event_type = ?
		ORDER BY position ASC, id ASC
	`), string(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	rules := make([]*domain.AutomationRule, 0, len(rows))
	for _, row := range rows {
		rule := &domain.AutomationRule{
			ID:        row.ID,
			Name:      row.Name,
			EventType: domain.EventType(row.EventType),
			IsActive:  row.IsActive != 0,
			Position:  row.Position,
		}
		if err := json.Unmarshal([]byte(row.Conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("decode rule %s conditions: %w", row.ID, err)
		}
		if err := json.Unmarshal([]byte(row.Actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("decode rule %s actions: %w", row.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// SaveRule upserts a rule
func (r *automationRepo) SaveRule(ctx context.Context, rule *domain.AutomationRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO automation_rules (id, name, event_type, conditions, actions, is_active, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			event_type = excluded.event_type,
			conditions = excluded.conditions,
			actions = excluded.actions,
			is_active = excluded.is_active,
			position = excluded.position
	`), rule.ID, rule.Name, string(rule.EventType), string(conditions), string(actions), boolInt(rule.IsActive), rule.Position)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// GetMacro loads a macro by id
func (r *automationRepo) GetMacro(ctx context.Context, id string) (*domain.Macro, error) {
	var row macroRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT id, name, actions FROM automation_macros WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query macro: %w", err)
	}
	macro := &domain.Macro{ID: row.ID, Name: row.Name}
	if err := json.Unmarshal([]byte(row.Actions), &macro.Actions); err != nil {
		return nil, fmt.Errorf("decode macro %s actions: %w", row.ID, err)
	}
	return macro, nil
}

// SaveMacro upserts a macro
func (r *automationRepo) SaveMacro(ctx context.Context, macro *domain.Macro) error {
	actions, err := json.Marshal(macro.Actions)
	if err != nil {
		return fmt.Errorf("encode macro actions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO automation_macros (id, name, actions)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, actions = excluded.actions
	`), macro.ID, macro.Name, string(actions))
	if err != nil {
		return fmt.Errorf("failed to save macro: %w", err)
	}
	return nil
}
