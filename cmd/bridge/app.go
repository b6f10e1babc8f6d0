package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/usecase"
	"github.com/zapdesk/inbox-bridge/internal/conf"
	"github.com/zapdesk/inbox-bridge/internal/data"
	"github.com/zapdesk/inbox-bridge/internal/infra/openai"
	"github.com/zapdesk/inbox-bridge/internal/infra/rabbitmq"
	"github.com/zapdesk/inbox-bridge/internal/infra/uazapi"
	"github.com/zapdesk/inbox-bridge/internal/logging"
	"github.com/zapdesk/inbox-bridge/internal/service"
)

// app holds the wired layers shared by every command
type app struct {
	cfg    *conf.Config
	repos  *data.Repositories
	broker *rabbitmq.Client

	bufferUC  *usecase.BufferUsecase
	processor *usecase.ProcessorUsecase
	engine    *usecase.TriggerEngine
	actions   *service.ActionService
	inbound   *service.InboundService
	events    *service.EventService
	scheduler *service.BufferScheduler
}

func loadConfig() (*conf.Config, error) {
	cfg, err := conf.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if seedFile != "" {
		cfg.Automation.SeedFile = seedFile
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty, cfg.Debug)
	return cfg, nil
}

// newApp opens the database, seeds it and wires repositories, usecases and
// services. withBroker dials RabbitMQ when a URL is configured.
func newApp(ctx context.Context, cfg *conf.Config, withBroker bool) (*app, error) {
	loc, err := cfg.Automation.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	db, err := data.OpenDB(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	clients := data.Clients{
		Gateway:      uazapi.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.RatePerSecond),
		AgentTimeout: cfg.LLM.AgentTimeout(),
	}
	if cfg.LLM.APIKey != "" {
		clients.LLM = openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
		log.Info().Str("component", "bridge").Str("model", cfg.LLM.Model).Msg("native agents enabled")
	}

	var broker *rabbitmq.Client
	if withBroker && cfg.AMQP.URL != "" {
		broker, err = rabbitmq.Dial(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, 5)
		if err != nil {
			db.Close()
			return nil, err
		}
		clients.Broker = broker
	}

	repos := data.NewRepositories(db, clients)

	seed, err := conf.LoadSeedConfig(cfg.Automation.SeedFile)
	if err != nil {
		repos.Close()
		return nil, err
	}
	if err := cfg.CheckReclaimWindow(seed.MaxResponseDelay()); err != nil {
		repos.Close()
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := repos.Seed(ctx, seed.DomainInstances(), seed.DomainAgents(), seed.Rules, seed.Macros); err != nil {
		repos.Close()
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}

	a := &app{cfg: cfg, repos: repos, broker: broker}

	a.bufferUC = usecase.NewBufferUsecase(repos.Buffer, cfg.ToBufferConfig())
	a.processor = usecase.NewProcessorUsecase(
		repos.Buffer, repos.Conversation, repos.Instance, repos.Agent, repos.Gateway, repos.Events,
		usecase.NewHumanizer(), cfg.ToProcessorConfig(),
	)

	a.actions = service.NewActionService(repos.Conversation, repos.Instance, repos.Gateway, repos.Events)
	a.engine = usecase.NewTriggerEngine(repos.Rules, usecase.NewActionDispatcher(a.actions, repos.Macros), repos.Events, loc)
	a.actions.SetEngine(a.engine)

	a.inbound = service.NewInboundService(repos.Conversation, repos.Instance, a.bufferUC, a.engine, cfg.Inbox.AIDefault)
	a.events = service.NewEventService(repos.Conversation, a.engine)
	a.scheduler = service.NewBufferScheduler(a.processor, a.bufferUC, repos.Conversation, a.engine, service.SchedulerConfig{
		Interval: cfg.Processor.Interval(),
		Schedule: cfg.Processor.Schedule,
	})

	return a, nil
}

func (a *app) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			log.Warn().Err(err).Str("component", "bridge").Msg("failed to close broker")
		}
	}
	if err := a.repos.Close(); err != nil {
		log.Warn().Err(err).Str("component", "bridge").Msg("failed to close database")
	}
}
