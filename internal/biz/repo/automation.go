package repo

import (
	"context"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

// RuleRepo provides automation rules to the trigger engine
type RuleRepo interface {
	// ListRules returns rules for the event type ordered by position, including inactive ones
	ListRules(ctx context.Context, eventType domain.EventType) ([]*domain.AutomationRule, error)
	SaveRule(ctx context.Context, rule *domain.AutomationRule) error
}

// MacroRepo provides macros for execute_macro actions
type MacroRepo interface {
	GetMacro(ctx context.Context, id string) (*domain.Macro, error)
	SaveMacro(ctx context.Context, macro *domain.Macro) error
}
