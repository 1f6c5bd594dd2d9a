package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const alertConsumerTag = "comms-gateway-alerts"

// settlement is what happens to a consumed alert once it has been processed.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// RabbitMQConsumer reads system alerts with manual acknowledgement.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger.With(zap.String("component", "alert-consumer")),
	}
}

// Consume blocks until ctx is done, resubscribing with backoff whenever the
// broker drops the channel.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler AlertHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("alert handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("alert subscription lost, retrying",
			zap.Error(err),
			zap.String("queue", queue),
			zap.Duration("backoff", wait),
		)
		if !sleepBackoff(ctx, wait) {
			return nil
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler AlertHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, alertConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", queue)
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles one delivery. Malformed alerts go straight to the
// dead-letter queue. A failing handler gets exactly one redelivery.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler AlertHandler) error {
	return settle(d, c.decide(ctx, d, handler))
}

func (c *RabbitMQConsumer) decide(ctx context.Context, d amqp.Delivery, handler AlertHandler) settlement {
	msg, err := decodeAlert(d.Body)
	if err != nil {
		c.logger.Warn("dropping malformed alert", zap.Error(err), zap.String("routingKey", d.RoutingKey))
		return settleDeadLetter
	}

	if err := handler(ctx, msg); err != nil {
		outcome := settleRequeue
		if d.Redelivered {
			outcome = settleDeadLetter
		}
		c.logger.Error("alert handler failed",
			zap.Error(err),
			zap.String("tenantId", msg.TenantID),
			zap.Stringer("settlement", outcome),
		)
		return outcome
	}

	return settleAck
}

func decodeAlert(body []byte) (AlertMessage, error) {
	var msg AlertMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return AlertMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return AlertMessage{}, fmt.Errorf("invalid alert: %w", err)
	}
	return msg, nil
}

func settle(d amqp.Delivery, outcome settlement) error {
	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	case settleDeadLetter:
		if d.Redelivered {
			err = d.Nack(false, false)
		} else {
			err = d.Reject(false)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
