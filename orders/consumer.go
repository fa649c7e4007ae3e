package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/convocart/convocart/core"
)

// statusEvent is the broker's order-status payload.
type statusEvent struct {
	UserID string `json:"user_id"`
	Order  Order  `json:"order"`
}

// Consumer feeds broker-pushed order status changes into the store.
type Consumer struct {
	cfg    core.OrderPushConfig
	store  *Store
	logger core.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConsumer creates a consumer. Run establishes the connection.
func NewConsumer(cfg core.OrderPushConfig, store *Store, logger core.Logger) *Consumer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Consumer{cfg: cfg, store: store, logger: logger}
}

func (c *Consumer) dial() (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.cfg.Queue, "order.status.*", c.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return deliveries, nil
}

// Run consumes until the context is cancelled, redialing with a fixed pause
// when the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	const redialPause = 5 * time.Second

	for {
		deliveries, err := c.dial()
		if err != nil {
			c.logger.Error("Broker connection failed", map[string]interface{}{
				"operation": "order_push",
				"error":     err.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(redialPause):
				continue
			}
		}

		c.logger.Info("Consuming order status updates", map[string]interface{}{
			"operation": "order_push",
			"queue":     c.cfg.Queue,
		})

		if err := c.consume(ctx, deliveries); err != nil {
			c.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Broker stream ended, redialing", map[string]interface{}{
				"operation": "order_push",
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(redialPause):
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return core.ErrConnectionFailed
			}
			c.handle(d)
		}
	}
}

func (c *Consumer) handle(d amqp.Delivery) {
	var event statusEvent
	if err := json.Unmarshal(d.Body, &event); err != nil || event.UserID == "" || event.Order.ID == "" {
		c.logger.Warn("Dropping malformed status event", map[string]interface{}{
			"operation": "order_push",
			"key":       d.RoutingKey,
		})
		// Malformed payloads never become valid; don't requeue.
		_ = d.Nack(false, false)
		return
	}

	c.store.Merge(event.UserID, event.Order)
	_ = d.Ack(false)
}

// Close tears down the broker connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
