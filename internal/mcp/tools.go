package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names
const (
	ToolBufferSummary       = "inbox_buffer_summary"
	ToolConversationBuffers = "inbox_conversation_buffers"
	ToolProcessBuffers      = "inbox_process_buffers"
	ToolFireEvent           = "inbox_fire_event"
)

// NewServer creates an MCP server exposing the inbox tools
func NewServer(handler *Handler, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "inbox-tools",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolBufferSummary,
		Description: "List conversations with open message buffers: how many customer messages are waiting and when the AI reply is scheduled.",
	}, handler.BufferSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolConversationBuffers,
		Description: "Get the recent message buffers of one conversation, newest first, including failed ones and their errors.",
	}, handler.ConversationBuffers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolProcessBuffers,
		Description: "Reply to every buffer whose quiet window has elapsed right now instead of waiting for the next scheduled pass.",
	}, handler.ProcessBuffers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolFireEvent,
		Description: "Fire an automation event for a conversation and run the matching rules. Use keyword_detected with content to test keyword rules.",
	}, handler.FireEvent)

	return server
}

// Run serves the MCP server over stdio until ctx is done
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
