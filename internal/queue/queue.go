package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
)

// EventPublisher publishes delivery lifecycle events.
type EventPublisher interface {
	PublishDeliveryEvent(ctx context.Context, event DeliveryEvent) error
	Close() error
}

// AlertHandler handles a consumed system alert.
type AlertHandler func(ctx context.Context, msg AlertMessage) error

// AlertConsumer consumes system alerts from a queue.
type AlertConsumer interface {
	Consume(ctx context.Context, queue string, handler AlertHandler) error
	Close() error
}

const (
	// DeliveryExchange is the topic exchange delivery events are published to.
	DeliveryExchange = "comms.delivery"
	// AlertQueue carries system alerts that fan out as notifications.
	AlertQueue = "system.alerts"

	// alertQueueMaxPriority is the RabbitMQ x-max-priority value for AlertQueue.
	alertQueueMaxPriority int32 = 2
)

// DeliveryRoutingKey returns the topic routing key of a delivery event,
// e.g. delivery.sms.failed.
func DeliveryRoutingKey(channel domain.Channel, status domain.DeliveryStatus) string {
	return fmt.Sprintf("delivery.%s.%s", strings.ToLower(channel.String()), strings.ToLower(status.String()))
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.system.alerts.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 2
	case domain.PriorityNormal:
		return 1
	default:
		return 0
	}
}

// NoopPublisher drops events. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishDeliveryEvent(context.Context, DeliveryEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
