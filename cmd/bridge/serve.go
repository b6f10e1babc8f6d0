package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zapdesk/inbox-bridge/internal/api"
	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/tracing"
)

// automation events accepted from the broker, bound as routing keys
var consumedEvents = []domain.EventType{
	domain.EventMessageCreated,
	domain.EventKeywordDetected,
	domain.EventConversationCreated,
	domain.EventConversationResolved,
	domain.EventConversationReopened,
	domain.EventConversationAssigned,
	domain.EventInactivityTimeout,
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API, buffer processor and automation engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Str("component", "bridge").Msg("failed to flush traces")
		}
	}()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Str("component", "bridge").Msg("JWT_SECRET not set, service endpoints are unauthenticated")
	}

	server := api.NewServer(a.inbound, a.processor, a.bufferUC, a.events, cfg.Auth.JWTSecret, cfg.Server.Addr)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	a.scheduler.Start(ctx)
	defer a.scheduler.Stop()

	if cfg.AMQP.Consume && a.broker != nil {
		keys := make([]string, 0, len(consumedEvents))
		for _, ev := range consumedEvents {
			keys = append(keys, string(ev))
		}
		if err := a.broker.Consume(ctx, cfg.AMQP.Queue, keys, a.events.HandleDelivery); err != nil {
			return err
		}
		log.Info().Str("component", "bridge").Str("queue", cfg.AMQP.Queue).Msg("consuming automation events")
	}

	log.Info().Str("component", "bridge").Str("version", Version).Str("addr", cfg.Server.Addr).Msg("inbox bridge started")

	select {
	case <-ctx.Done():
		log.Info().Str("component", "bridge").Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("component", "bridge").Msg("http shutdown failed")
	}
	return nil
}
