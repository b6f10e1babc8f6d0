package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/conf"
	"github.com/zapdesk/inbox-bridge/internal/logging"
	"github.com/zapdesk/inbox-bridge/internal/mcp"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

// inbox-mcp exposes buffer inspection and automation tools to an MCP host
// over stdio, relaying every call to the bridge HTTP API.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := conf.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	// stdout carries the protocol; logs stay on stderr
	logging.Setup(cfg.Log.Level, false, false)

	client := mcp.NewClient(cfg.MCP.BridgeURL, cfg.MCP.BridgeToken)
	server := mcp.NewServer(mcp.NewHandler(client), Version)

	log.Info().Str("component", "mcp").Str("bridge", cfg.MCP.BridgeURL).Msg("serving MCP over stdio")
	if err := mcp.Run(ctx, server); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Str("component", "mcp").Msg("mcp server stopped")
	}
}
