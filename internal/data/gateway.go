package data

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
	"github.com/zapdesk/inbox-bridge/internal/biz/repo"
	"github.com/zapdesk/inbox-bridge/internal/infra/rabbitmq"
	"github.com/zapdesk/inbox-bridge/internal/infra/uazapi"
)

// gatewayRepo sends through the UAZAPI gateway using the instance token
type gatewayRepo struct {
	client *uazapi.Client
}

// NewGatewayRepo creates a gateway repository
func NewGatewayRepo(client *uazapi.Client) repo.GatewayRepo {
	return &gatewayRepo{client: client}
}

func instanceToken(instance *domain.Instance) string {
	if instance == nil {
		return ""
	}
	return instance.Token
}

// SendText sends a text message
func (r *gatewayRepo) SendText(ctx context.Context, instance *domain.Instance, number, text string) error {
	return r.client.SendText(ctx, instanceToken(instance), domain.NormalizePhone(number), text)
}

// SendPresence sends a presence signal
func (r *gatewayRepo) SendPresence(ctx context.Context, instance *domain.Instance, number, presence string) error {
	return r.client.SendPresence(ctx, instanceToken(instance), domain.NormalizePhone(number), presence)
}

// amqpPublisher publishes pipeline events to RabbitMQ, routed by event type
type amqpPublisher struct {
	client *rabbitmq.Client
}

// NewEventPublisher returns a RabbitMQ publisher, or a no-op one when client is nil
func NewEventPublisher(client *rabbitmq.Client) repo.EventPublisher {
	if client == nil {
		return noopPublisher{}
	}
	return &amqpPublisher{client: client}
}

// Publish sends the event with its type as routing key
func (p *amqpPublisher) Publish(ctx context.Context, event *domain.Event) error {
	return p.client.Publish(ctx, event.Type, event.ID, event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, event *domain.Event) error {
	log.Debug().Str("component", "events").Str("type", event.Type).Str("conversation_id", event.ConversationID).Msg("event (no broker)")
	return nil
}
