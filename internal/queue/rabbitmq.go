package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "comms.dlx"
	dialTimeout      = 15 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

type exchangeSpec struct {
	name string
	kind string
}

type queueSpec struct {
	name string
	args amqp.Table
	// bindings are (exchange, routing key) pairs.
	bindings [][2]string
}

// gatewayExchanges and gatewayQueues describe the broker objects the gateway
// relies on. Declaring them is idempotent.
var gatewayExchanges = []exchangeSpec{
	{name: DeliveryExchange, kind: amqp.ExchangeTopic},
	{name: dlxExchangeName, kind: amqp.ExchangeDirect},
}

var gatewayQueues = []queueSpec{
	{
		name:     DLQName(AlertQueue),
		bindings: [][2]string{{dlxExchangeName, AlertQueue}},
	},
	{
		name: AlertQueue,
		args: amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": AlertQueue,
			"x-max-priority":            alertQueueMaxPriority,
		},
	},
}

// RabbitMQ owns a single broker connection and re-dials it on demand.
type RabbitMQ struct {
	url string

	mu     sync.RWMutex
	dialMu sync.Mutex
	conn   *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// channel opens a fresh channel with the gateway topology declared on it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the liveness check and here.
		conn, err = r.redial(ctx)
		if err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	return r.redial(ctx)
}

// redial replaces a dead connection, retrying with exponential backoff until
// ctx is done. Concurrent callers share one dial loop.
func (r *RabbitMQ) redial(ctx context.Context) (*amqp.Connection, error) {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	current := r.conn
	r.mu.RUnlock()
	if current != nil && !current.IsClosed() {
		return current, nil
	}

	wait := reconnectBackoff
	for {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			stale := r.conn
			r.conn = conn
			r.mu.Unlock()

			if stale != nil && !stale.IsClosed() {
				_ = stale.Close()
			}
			return conn, nil
		}

		if !sleepBackoff(ctx, wait) {
			return nil, fmt.Errorf("rabbitmq dial canceled, last error %v: %w", err, ctx.Err())
		}
		wait = nextBackoff(wait)
	}
}

func declareTopology(ch *amqp.Channel) error {
	for _, ex := range gatewayExchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}

	for _, q := range gatewayQueues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		for _, b := range q.bindings {
			if err := ch.QueueBind(q.name, b[1], b[0], false, nil); err != nil {
				return fmt.Errorf("failed to bind queue %q to %q: %w", q.name, b[0], err)
			}
		}
	}

	return nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// sleepBackoff reports false when ctx ends before d elapses.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
