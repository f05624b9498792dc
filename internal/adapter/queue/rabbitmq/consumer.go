package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventConsumer tails task events through a private queue bound to the exchange
type EventConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewEventConsumer connects to url and declares exchange
func NewEventConsumer(ctx context.Context, url, exchange string, log *zap.Logger) (*EventConsumer, error) {
	conn, ch, err := connect(ctx, url, exchange, maxRetries, 2*time.Second, log)
	if err != nil {
		return nil, err
	}
	return &EventConsumer{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log,
	}, nil
}

// Consume hands every event to handler until ctx is done or the broker closes the channel
func (c *EventConsumer) Consume(ctx context.Context, handler func(event *domain.TaskEvent) error) error {
	q, err := c.ch.QueueDeclare(
		"",    // name, server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, BindingKey, c.exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.ch.ConsumeWithContext(ctx,
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	c.log.Info("Started consuming task events", zap.String("queue", q.Name), zap.String("exchange", c.exchange))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return amqp.ErrClosed
			}
			c.handle(d, handler)
		}
	}
}

func (c *EventConsumer) handle(d amqp.Delivery, handler func(event *domain.TaskEvent) error) {
	event, err := decodeEvent(d.Body)
	if err != nil {
		c.log.Error("Failed to unmarshal task event", zap.Error(err))
		_ = d.Nack(false, false) // discard invalid message
		return
	}

	if err := handler(event); err != nil {
		c.log.Error("Task event handling failed", zap.String("task_id", event.TaskID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Close tears down the channel and the connection
func (c *EventConsumer) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

func decodeEvent(body []byte) (*domain.TaskEvent, error) {
	var event domain.TaskEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
