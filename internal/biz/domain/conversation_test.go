package domain

import (
	"testing"
	"time"
)

func TestConversation_ShouldAIRespond(t *testing.T) {
	conv := &Conversation{AIEnabled: true}
	if !conv.ShouldAIRespond() {
		t.Error("Expected AI to respond on an unassigned AI-enabled conversation")
	}

	conv.AssignedTo = "agent-1"
	if conv.ShouldAIRespond() {
		t.Error("Expected AI to stay silent once a human is assigned")
	}

	conv = &Conversation{AIEnabled: false}
	if conv.ShouldAIRespond() {
		t.Error("Expected AI to stay silent when disabled")
	}
}

func TestConversation_InactiveFor(t *testing.T) {
	now := time.Now()
	conv := &Conversation{}
	if got := conv.InactiveFor(now); got != 0 {
		t.Errorf("Expected 0 for a conversation without messages, got %v", got)
	}

	conv.LastMessageAt = now.Add(-45 * time.Minute)
	if got := conv.InactiveFor(now); got != 45*time.Minute {
		t.Errorf("Expected 45m, got %v", got)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+55 (11) 99999-0000", "5511999990000"},
		{"5511999990000@s.whatsapp.net", "5511999990000"},
		{"5511", "5511"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("  short  ", 10); got != "short" {
		t.Errorf("Expected trimmed text, got %q", got)
	}
	if got := Preview("olá mundo cruel", 9); got != "olá mundo..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

func TestTimeRange_Contains(t *testing.T) {
	tests := []struct {
		name string
		r    TimeRange
		hour int
		want bool
	}{
		{"inside day window", TimeRange{StartHour: 9, EndHour: 18}, 12, true},
		{"end is exclusive", TimeRange{StartHour: 9, EndHour: 18}, 18, false},
		{"start is inclusive", TimeRange{StartHour: 9, EndHour: 18}, 9, true},
		{"overnight late", TimeRange{StartHour: 22, EndHour: 6}, 23, true},
		{"overnight early", TimeRange{StartHour: 22, EndHour: 6}, 3, true},
		{"overnight outside", TimeRange{StartHour: 22, EndHour: 6}, 12, false},
		{"equal bounds is always", TimeRange{StartHour: 5, EndHour: 5}, 17, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Contains(tt.hour); got != tt.want {
				t.Errorf("Contains(%d) = %v, expected %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestAction_Params(t *testing.T) {
	a := Action{Params: map[string]any{
		"text":    "hi",
		"minutes": float64(30),
		"count":   "7",
		"enabled": "false",
		"id":      float64(42),
	}}

	if got := a.StringParam("text"); got != "hi" {
		t.Errorf("Expected hi, got %q", got)
	}
	if got := a.StringParam("id"); got != "42" {
		t.Errorf("Expected numeric id as string, got %q", got)
	}
	if got := a.IntParam("minutes", 0); got != 30 {
		t.Errorf("Expected 30, got %d", got)
	}
	if got := a.IntParam("count", 0); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
	if got := a.IntParam("missing", 5); got != 5 {
		t.Errorf("Expected default 5, got %d", got)
	}
	if v, ok := a.BoolParam("enabled"); !ok || v {
		t.Errorf("Expected enabled=false present, got %v %v", v, ok)
	}
	if _, ok := a.BoolParam("missing"); ok {
		t.Error("Expected missing bool param to report absent")
	}
}

func TestConditions_KeywordList(t *testing.T) {
	c := Conditions{Keywords: " Refund, ,PRICE ,"}
	got := c.KeywordList()
	if len(got) != 2 || got[0] != "refund" || got[1] != "price" {
		t.Errorf("Expected [refund price], got %v", got)
	}
}
