// Package rabbitmq carries task lifecycle events over an AMQP topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	maxRetries = 10
	// BindingKey matches every task event routing key
	BindingKey = "task.#"
)

// EventPublisher implements port.EventPublisher on a topic exchange
type EventPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewEventPublisher connects to url and declares exchange
func NewEventPublisher(ctx context.Context, url, exchange string, log *zap.Logger) (*EventPublisher, error) {
	conn, ch, err := connect(ctx, url, exchange, maxRetries, 2*time.Second, log)
	if err != nil {
		return nil, err
	}
	return &EventPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log,
	}, nil
}

// connect dials with an incremental backoff, opens a channel and declares the topic exchange
func connect(ctx context.Context, url, exchange string, attempts int, backoff time.Duration, log *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var err error
	for i := 1; i <= attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			var ch *amqp.Channel
			ch, err = conn.Channel()
			if err == nil {
				err = ch.ExchangeDeclare(
					exchange,           // name
					amqp.ExchangeTopic, // kind
					true,               // durable
					false,              // auto-deleted
					false,              // internal
					false,              // no-wait
					nil,                // arguments
				)
				if err == nil {
					return conn, ch, nil
				}
			}
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", attempts),
			zap.Error(err),
		)
		if i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(time.Duration(i) * backoff):
		}
	}

	return nil, nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.TaskEvent) error {
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}

	if err := p.ch.PublishWithContext(ctx,
		p.exchange,         // Exchange
		string(event.Type), // Routing key
		false,              // Mandatory
		false,              // Immediate
		msg,
	); err != nil {
		p.log.Error("Failed to publish task event", zap.Error(err))
		return err
	}

	p.log.Debug("Published task event", zap.String("task_id", event.TaskID), zap.String("key", string(event.Type)))
	return nil
}

// Close tears down the channel and the connection
func (p *EventPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func newPublishing(event *domain.TaskEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}, nil
}
