package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
)

var (
	// ErrMacroCycle is returned when a macro directly or indirectly executes itself
	ErrMacroCycle = errors.New("macro cycle detected")

	// ErrUnknownAction is returned for action types the dispatcher does not know
	ErrUnknownAction = errors.New("unknown action type")
)

// ActionHandler performs the side effects behind automation actions
type ActionHandler interface {
	SendMessage(ctx context.Context, ec domain.EventContext, text string) error
	SendPrivateNote(ctx context.Context, ec domain.EventContext, text string) error
	AddLabel(ctx context.Context, ec domain.EventContext, label string) error
	Resolve(ctx context.Context, ec domain.EventContext) error
	ToggleAI(ctx context.Context, ec domain.EventContext, enabled bool) error
	Snooze(ctx context.Context, ec domain.EventContext, until time.Time) error
	SetPriority(ctx context.Context, ec domain.EventContext, priority string) error
	AssignAgent(ctx context.Context, ec domain.EventContext, assignee string) error
}

// ActionDispatcher maps action types onto the handler
type ActionDispatcher struct {
	handler ActionHandler
	macros  repo.MacroRepo
	now     func() time.Time
}

// NewActionDispatcher creates a new action dispatcher
func NewActionDispatcher(handler ActionHandler, macros repo.MacroRepo) *ActionDispatcher {
	return &ActionDispatcher{
		handler: handler,
		macros:  macros,
		now:     time.Now,
	}
}

// Dispatch runs a single action, expanding macros depth-first
func (d *ActionDispatcher) Dispatch(ctx context.Context, ec domain.EventContext, action domain.Action) error {
	return d.dispatch(ctx, ec, action, make(map[string]bool))
}

func (d *ActionDispatcher) dispatch(ctx context.Context, ec domain.EventContext, action domain.Action, visiting map[string]bool) error {
	switch action.Type {
	case domain.ActionSendMessage:
		text := firstParam(action, "message", "text")
		if text == "" {
			return fmt.Errorf("%s: message is required", action.Type)
		}
		return d.handler.SendMessage(ctx, ec, text)

	case domain.ActionSendPrivateNote:
		text := firstParam(action, "note", "message", "text")
		if text == "" {
			return fmt.Errorf("%s: note is required", action.Type)
		}
		return d.handler.SendPrivateNote(ctx, ec, text)

	case domain.ActionAddLabel:
		label := firstParam(action, "label", "label_id")
		if label == "" {
			return fmt.Errorf("%s: label is required", action.Type)
		}
		return d.handler.AddLabel(ctx, ec, label)

	case domain.ActionResolve:
		return d.handler.Resolve(ctx, ec)

	case domain.ActionToggleAI:
		enabled, ok := action.BoolParam("enabled")
		if !ok {
			return fmt.Errorf("%s: enabled is required", action.Type)
		}
		return d.handler.ToggleAI(ctx, ec, enabled)

	case domain.ActionSnooze:
		until, err := snoozeUntil(action, d.now())
		if err != nil {
			return err
		}
		return d.handler.Snooze(ctx, ec, until)

	case domain.ActionSetPriority:
		priority := action.StringParam("priority")
		if priority == "" {
			return fmt.Errorf("%s: priority is required", action.Type)
		}
		return d.handler.SetPriority(ctx, ec, priority)

	case domain.ActionAssignAgent:
		assignee := firstParam(action, "agent_id", "user_id", "assignee")
		if assignee == "" {
			return fmt.Errorf("%s: agent_id is required", action.Type)
		}
		return d.handler.AssignAgent(ctx, ec, assignee)

	case domain.ActionExecuteMacro:
		return d.executeMacro(ctx, ec, action, visiting)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action.Type)
	}
}

// executeMacro runs the macro's actions in order and stops at the first error.
// visiting holds the macros on the current expansion path, so repeated
// non-recursive use of the same macro is allowed.
func (d *ActionDispatcher) executeMacro(ctx context.Context, ec domain.EventContext, action domain.Action, visiting map[string]bool) error {
	id := action.StringParam("macro_id")
	if id == "" {
		return fmt.Errorf("%s: macro_id is required", action.Type)
	}
	if visiting[id] {
		return fmt.Errorf("%w: %s", ErrMacroCycle, id)
	}
	if d.macros == nil {
		return fmt.Errorf("macro %s: %w", id, domain.ErrNotFound)
	}

	macro, err := d.macros.GetMacro(ctx, id)
	if err != nil {
		return fmt.Errorf("load macro %s: %w", id, err)
	}

	visiting[id] = true
	defer delete(visiting, id)

	for i, a := range macro.Actions {
		if err := d.dispatch(ctx, ec, a, visiting); err != nil {
			return fmt.Errorf("macro %s action %d: %w", id, i, err)
		}
	}
	return nil
}

func firstParam(action domain.Action, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(action.StringParam(k)); v != "" {
			return v
		}
	}
	return ""
}

// snoozeUntil reads an absolute "until" (RFC3339) or relative "minutes" (default 60)
func snoozeUntil(action domain.Action, now time.Time) (time.Time, error) {
	if raw := action.StringParam("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: invalid until %q: %w", action.Type, raw, err)
		}
		return t, nil
	}
	minutes := action.IntParam("minutes", 60)
	if minutes <= 0 {
		return time.Time{}, fmt.Errorf("%s: minutes must be positive", action.Type)
	}
	return now.Add(time.Duration(minutes) * time.Minute), nil
}

// ProcessResult describes what one event evaluation did
type ProcessResult struct {
	Duplicate bool `json:"duplicate"`
	Matched   int  `json:"matched"`
	Executed  int  `json:"executed"`
	Failed    int  `json:"failed"`
}

// TriggerEngine evaluates automation rules against conversation events
type TriggerEngine struct {
	rules      repo.RuleRepo
	dispatcher *ActionDispatcher
	publisher  repo.EventPublisher
	dedupe     *EventDeduper
	location   *time.Location
	now        func() time.Time
}

// NewTriggerEngine creates a trigger engine.
// loc is the timezone used for time-range conditions; nil means UTC.
func NewTriggerEngine(rules repo.RuleRepo, dispatcher *ActionDispatcher, publisher repo.EventPublisher, loc *time.Location) *TriggerEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &TriggerEngine{
		rules:      rules,
		dispatcher: dispatcher,
		publisher:  publisher,
		dedupe:     NewEventDeduper(DefaultDedupeSize),
		location:   loc,
		now:        time.Now,
	}
}

// ProcessEvent runs every active rule of eventType whose conditions match ec.
// A failing action is logged and counted; the remaining actions still run.
func (e *TriggerEngine) ProcessEvent(ctx context.Context, eventType domain.EventType, ec domain.EventContext) (*ProcessResult, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("invalid event type %q", eventType)
	}
	now := e.now()
	if ec.Timestamp.IsZero() {
		ec.Timestamp = now
	}

	result := &ProcessResult{}
	if e.dedupe.Seen(dedupeKey(eventType, ec)) {
		result.Duplicate = true
		log.Debug().Str("component", "automation").
			Str("event", string(eventType)).
			Str("conversation_id", ec.ConversationID).
			Msg("duplicate event skipped")
		return result, nil
	}

	rules, err := e.rules.ListRules(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	for _, rule := range rules {
		if !MatchRule(rule, eventType, ec, now.In(e.location)) {
			continue
		}
		result.Matched++
		log.Info().Str("component", "automation").
			Str("rule", rule.Name).
			Str("event", string(eventType)).
			Str("conversation_id", ec.ConversationID).
			Msg("rule matched")

		for _, action := range rule.Actions {
			if err := e.dispatcher.Dispatch(ctx, ec, action); err != nil {
				result.Failed++
				log.Warn().Err(err).Str("component", "automation").
					Str("rule", rule.Name).
					Str("action", string(action.Type)).
					Msg("action failed")
				continue
			}
			result.Executed++
		}
	}

	if result.Matched > 0 {
		e.publish(ctx, eventType, ec, result)
	}
	return result, nil
}

func (e *TriggerEngine) publish(ctx context.Context, eventType domain.EventType, ec domain.EventContext, result *ProcessResult) {
	if e.publisher == nil {
		return
	}
	ev := &domain.Event{
		ID:             uuid.NewString(),
		Type:           domain.TopicAutomationExecuted,
		ConversationID: ec.ConversationID,
		Payload: map[string]any{
			"event_type": string(eventType),
			"matched":    result.Matched,
			"executed":   result.Executed,
			"failed":     result.Failed,
		},
		Time: e.now(),
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("component", "automation").Msg("publish failed")
	}
}

func dedupeKey(eventType domain.EventType, ec domain.EventContext) string {
	return fmt.Sprintf("%s|%s|%s|%d", eventType, ec.ConversationID, ec.MessageID, ec.Timestamp.UnixMilli())
}

// MatchRule reports whether an active rule for eventType accepts the context.
// now must already be in the timezone used for hour-of-day ranges.
func MatchRule(rule *domain.AutomationRule, eventType domain.EventType, ec domain.EventContext, now time.Time) bool {
	if !rule.IsActive || rule.EventType != eventType {
		return false
	}
	return MatchConditions(rule.Conditions, ec, now)
}

// MatchConditions applies every present condition; all must pass
func MatchConditions(c domain.Conditions, ec domain.EventContext, now time.Time) bool {
	if keywords := c.KeywordList(); len(keywords) > 0 {
		content := strings.ToLower(ec.Content)
		hit := false
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if c.Status != "" && c.Status != ec.Status {
		return false
	}
	if c.Priority != "" && c.Priority != ec.Priority {
		return false
	}
	if c.TimeRange != nil && !c.TimeRange.Contains(now.Hour()) {
		return false
	}
	if ec.InactivityAfter > 0 && c.InactivityMinutes <= ec.InactivityAfter {
		return false
	}
	if c.InactivityMinutes > 0 {
		if ec.LastMessageAt.IsZero() {
			return false
		}
		if now.Sub(ec.LastMessageAt) < time.Duration(c.InactivityMinutes)*time.Minute {
			return false
		}
	}
	return true
}

// ========== Event Wrappers ==========

// TriggerMessageCreated fires message_created and, for text messages, keyword_detected
func (e *TriggerEngine) TriggerMessageCreated(ctx context.Context, conv *domain.Conversation, msg *domain.ChatMessage) error {
	ec := domain.EventContextFor(conv, msg.CreatedAt)
	ec.MessageID = msg.ID
	ec.Content = msg.Content

	_, err := e.ProcessEvent(ctx, domain.EventMessageCreated, ec)
	if strings.TrimSpace(msg.Content) == "" {
		return err
	}
	_, kwErr := e.ProcessEvent(ctx, domain.EventKeywordDetected, ec)
	return errors.Join(err, kwErr)
}

// TriggerConversationCreated fires conversation_created
func (e *TriggerEngine) TriggerConversationCreated(ctx context.Context, conv *domain.Conversation) error {
	return e.fire(ctx, domain.EventConversationCreated, conv)
}

// TriggerConversationResolved fires conversation_resolved
func (e *TriggerEngine) TriggerConversationResolved(ctx context.Context, conv *domain.Conversation) error {
	return e.fire(ctx, domain.EventConversationResolved, conv)
}

// TriggerConversationReopened fires conversation_reopened
func (e *TriggerEngine) TriggerConversationReopened(ctx context.Context, conv *domain.Conversation) error {
	return e.fire(ctx, domain.EventConversationReopened, conv)
}

// TriggerConversationAssigned fires conversation_assigned
func (e *TriggerEngine) TriggerConversationAssigned(ctx context.Context, conv *domain.Conversation) error {
	return e.fire(ctx, domain.EventConversationAssigned, conv)
}

// TriggerInactivityTimeout fires inactivity_timeout. Rules whose threshold
// already fired for the conversation's quiet period are left out.
func (e *TriggerEngine) TriggerInactivityTimeout(ctx context.Context, conv *domain.Conversation) error {
	ec := domain.EventContextFor(conv, e.now())
	ec.InactivityAfter = conv.InactivityAfter()
	_, err := e.ProcessEvent(ctx, domain.EventInactivityTimeout, ec)
	return err
}

func (e *TriggerEngine) fire(ctx context.Context, eventType domain.EventType, conv *domain.Conversation) error {
	_, err := e.ProcessEvent(ctx, eventType, domain.EventContextFor(conv, e.now()))
	return err
}

// InactivityThresholds returns the distinct inactivity conditions, in minutes
// and ascending, of active inactivity_timeout rules
func (e *TriggerEngine) InactivityThresholds(ctx context.Context) ([]int, error) {
	rules, err := e.rules.ListRules(ctx, domain.EventInactivityTimeout)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []int
	for _, r := range rules {
		m := r.Conditions.InactivityMinutes
		if !r.IsActive || m <= 0 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}
