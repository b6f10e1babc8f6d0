package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/infra/openai"
)

const defaultSystemPrompt = "You are a helpful WhatsApp customer support assistant. Reply briefly and in the customer's language."

// replyFields are tried in order; the first non-empty string wins
var replyFields = []string{"response", "message", "output", "text", "reply"}

// ChatCompleter runs chat completions for native agents
type ChatCompleter interface {
	Chat(ctx context.Context, model string, messages []openai.Message) (string, error)
}

// agentRepo invokes native and webhook agents
type agentRepo struct {
	llm        ChatCompleter
	httpClient *http.Client
}

// NewAgentRepo creates an agent repository. llm may be nil when no native agents are used.
func NewAgentRepo(llm ChatCompleter, timeout time.Duration) repo.AgentRepo {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &agentRepo{
		llm:        llm,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke runs one agent turn
func (r *agentRepo) Invoke(ctx context.Context, agent *domain.Agent, req *repo.AgentRequest) (string, error) {
	switch agent.Kind {
	case domain.AgentKindNative:
		return r.invokeNative(ctx, agent, req)
	case domain.AgentKindWebhook, "":
		return r.invokeWebhook(ctx, agent, req)
	default:
		return "", fmt.Errorf("unknown agent kind %q", agent.Kind)
	}
}

func (r *agentRepo) invokeNative(ctx context.Context, agent *domain.Agent, req *repo.AgentRequest) (string, error) {
	if r.llm == nil {
		return "", fmt.Errorf("native agent %s: no model client configured", agent.Name)
	}

	prompt := agent.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if req.ContactName != "" {
		prompt += "\n\nThe customer's name is " + req.ContactName + "."
	}

	messages := []openai.Message{{Role: openai.RoleSystem, Content: prompt}}
	for _, m := range req.History {
		content := m.BufferText()
		if content == "" {
			continue
		}
		role := openai.RoleUser
		if m.Direction == domain.DirectionOutbound {
			role = openai.RoleAssistant
		}
		messages = append(messages, openai.Message{Role: role, Content: content})
	}
	messages = append(messages, openai.Message{Role: openai.RoleUser, Content: req.Message})

	return r.llm.Chat(ctx, agent.Model, messages)
}

type webhookPayload struct {
	Message            string   `json:"message"`
	SessionID          string   `json:"sessionId"`
	Phone              string   `json:"phone"`
	Source             string   `json:"source"`
	AgentName          string   `json:"agentName"`
	ConversationID     string   `json:"conversationId"`
	ContactName        string   `json:"contactName,omitempty"`
	BufferedMessages   int      `json:"buffered_messages"`
	IndividualMessages []string `json:"individual_messages"`
}

func (r *agentRepo) invokeWebhook(ctx context.Context, agent *domain.Agent, req *repo.AgentRequest) (string, error) {
	if agent.WebhookURL == "" {
		return "", fmt.Errorf("agent %s has no webhook URL", agent.Name)
	}

	body, err := json.Marshal(webhookPayload{
		Message:            req.Message,
		SessionID:          req.SessionID,
		Phone:              req.Phone,
		Source:             req.Source,
		AgentName:          agent.Name,
		ConversationID:     req.ConversationID,
		ContactName:        req.ContactName,
		BufferedMessages:   len(req.IndividualMessages),
		IndividualMessages: req.IndividualMessages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, domain.Preview(string(respBody), 200))
	}

	return ExtractReply(respBody), nil
}

// ExtractReply pulls the reply text out of an agent response body.
// Objects are searched for the known reply fields, arrays use their first
// element, and anything that is not JSON is taken as plain text.
func ExtractReply(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}

	switch t := v.(type) {
	case map[string]any:
		return replyFromObject(t)
	case []any:
		if len(t) == 0 {
			return ""
		}
		switch first := t[0].(type) {
		case map[string]any:
			return replyFromObject(first)
		case string:
			return strings.TrimSpace(first)
		}
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return string(trimmed)
	}
}

func replyFromObject(obj map[string]any) string {
	for _, field := range replyFields {
		if s, ok := obj[field].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
