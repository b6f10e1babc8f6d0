package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType is the trigger an automation rule listens to
type EventType string

const (
	EventMessageCreated       EventType = "message_created"
	EventKeywordDetected      EventType = "keyword_detected"
	EventConversationCreated  EventType = "conversation_created"
	EventConversationResolved EventType = "conversation_resolved"
	EventConversationReopened EventType = "conversation_reopened"
	EventConversationAssigned EventType = "conversation_assigned"
	EventInactivityTimeout    EventType = "inactivity_timeout"
)

var validEventTypes = map[EventType]bool{
	EventMessageCreated:       true,
	EventKeywordDetected:      true,
	EventConversationCreated:  true,
	EventConversationResolved: true,
	EventConversationReopened: true,
	EventConversationAssigned: true,
	EventInactivityTimeout:    true,
}

// IsValid reports whether the event type is known
func (e EventType) IsValid() bool {
	return validEventTypes[e]
}

// ActionType names an automation action
type ActionType string

const (
	ActionSendMessage     ActionType = "send_message"
	ActionSendPrivateNote ActionType = "send_private_note"
	ActionAddLabel        ActionType = "add_label"
	ActionResolve         ActionType = "resolve"
	ActionToggleAI        ActionType = "toggle_ai"
	ActionSnooze          ActionType = "snooze"
	ActionSetPriority     ActionType = "set_priority"
	ActionAssignAgent     ActionType = "assign_agent"
	ActionExecuteMacro    ActionType = "execute_macro"
)

// Action is one step of a rule or macro
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// StringParam returns a string parameter, accepting numbers as well
func (a Action) StringParam(key string) string {
	v, ok := a.Params[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// IntParam returns an integer parameter or def when missing or malformed
func (a Action) IntParam(key string, def int) int {
	v, ok := a.Params[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// BoolParam returns a boolean parameter; ok is false when absent
func (a Action) BoolParam(key string) (value bool, ok bool) {
	v, exists := a.Params[key]
	if !exists || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	}
	return false, false
}

// TimeRange is an hour-of-day window; End is exclusive and may wrap past midnight
type TimeRange struct {
	StartHour int `json:"start_hour" yaml:"start_hour"`
	EndHour   int `json:"end_hour" yaml:"end_hour"`
}

// Contains reports whether hour h falls inside the window
func (r TimeRange) Contains(h int) bool {
	if r.StartHour == r.EndHour {
		return true
	}
	if r.StartHour < r.EndHour {
		return h >= r.StartHour && h < r.EndHour
	}
	return h >= r.StartHour || h < r.EndHour
}

// Conditions are the optional predicates of a rule. Zero values mean "don't care".
type Conditions struct {
	Keywords          string     `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Status            string     `json:"status,omitempty" yaml:"status,omitempty"`
	Priority          string     `json:"priority,omitempty" yaml:"priority,omitempty"`
	TimeRange         *TimeRange `json:"time_range,omitempty" yaml:"time_range,omitempty"`
	InactivityMinutes int        `json:"inactivity_minutes,omitempty" yaml:"inactivity_minutes,omitempty"`
}

// KeywordList splits the comma-separated keyword condition
func (c Conditions) KeywordList() []string {
	var out []string
	for _, kw := range strings.Split(c.Keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, strings.ToLower(kw))
		}
	}
	return out
}

// AutomationRule reacts to an event with an ordered list of actions
type AutomationRule struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	EventType  EventType  `json:"event_type" yaml:"event_type"`
	Conditions Conditions `json:"conditions" yaml:"conditions"`
	Actions    []Action   `json:"actions" yaml:"actions"`
	IsActive   bool       `json:"is_active" yaml:"is_active"`
	Position   int        `json:"position" yaml:"position"`
}

// Macro is a named, reusable action list
type Macro struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Actions []Action `json:"actions" yaml:"actions"`
}

// EventContext is what rule conditions are evaluated against
type EventContext struct {
	ConversationID  string    `json:"conversation_id"`
	InstanceID      string    `json:"instance_id,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	Content         string    `json:"content,omitempty"`
	Status          string    `json:"status,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	AssignedTo      string    `json:"assigned_to,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	// InactivityAfter skips inactivity conditions at or below this many
	// minutes; those already fired for the current quiet period
	InactivityAfter int       `json:"inactivity_after,omitempty"`
}

// EventContextFor builds an event context from a conversation snapshot
func EventContextFor(conv *Conversation, at time.Time) EventContext {
	return EventContext{
		ConversationID: conv.ID,
		InstanceID:     conv.InstanceID,
		Phone:          conv.Phone,
		Status:         string(conv.Status),
		Priority:       conv.Priority,
		AssignedTo:     conv.AssignedTo,
		LastMessageAt:  conv.LastMessageAt,
		Timestamp:      at,
	}
}
