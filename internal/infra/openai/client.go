package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

// Message roles
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat turn
type Message struct {
	Role    string
	Content string
}

// Client is an OpenAI-compatible chat completion client
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates a new client. An empty baseURL uses the OpenAI endpoint.
func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = defaultModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &Client{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: 60 * time.Second,
	}
}

// Chat sends the conversation and returns the assistant reply.
// model overrides the client default when non-empty.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if model == "" {
		model = c.model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return resp.Choices[0].Message.Content, nil
}
