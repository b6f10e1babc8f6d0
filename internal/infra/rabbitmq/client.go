package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Handler processes one delivery. A returned error requeues the message once.
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Client publishes to and consumes from a topic exchange
type Client struct {
	conn     *amqp.Connection
	exchange string

	mu       sync.Mutex
	consumer *amqp.Channel
	wg       sync.WaitGroup
}

// Dial connects with exponential backoff and declares the exchange
func Dial(ctx context.Context, url, exchange string, attempts int) (*Client, error) {
	if attempts <= 0 {
		attempts = 5
	}

	var conn *amqp.Connection
	var lastErr error
	delay := time.Second
	for i := 1; i <= attempts; i++ {
		conn, lastErr = amqp.Dial(url)
		if lastErr == nil {
			break
		}
		log.Warn().Err(lastErr).Str("component", "rabbitmq").Int("attempt", i).Dur("sleep", delay).Msg("dial failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("component", "rabbitmq").Str("exchange", exchange).Msg("connected")
	return &Client{conn: conn, exchange: exchange}, nil
}

// Publish sends a persistent JSON message with the routing key
func (c *Client) Publish(ctx context.Context, routingKey, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Type:         routingKey,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume binds queue to the routing keys and runs handler for each delivery
// until ctx is cancelled
func (c *Client) Consume(ctx context.Context, queue string, routingKeys []string, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.mu.Lock()
	c.consumer = ch
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.handle(ctx, d, handler)
			}
		}
	}()

	log.Info().Str("component", "rabbitmq").Str("queue", queue).Strs("keys", routingKeys).Msg("consumer started")
	return nil
}

func (c *Client) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := handler(hctx, d.RoutingKey, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	var permanent *PermanentError
	requeue := !d.Redelivered && !errors.As(err, &permanent)
	log.Error().Err(err).Str("component", "rabbitmq").
		Str("key", d.RoutingKey).
		Bool("requeue", requeue).
		Msg("handler error")
	_ = d.Nack(false, requeue)
}

// PermanentError marks a delivery that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Close stops consumers and closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.consumer != nil {
		_ = c.consumer.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return c.conn.Close()
}
