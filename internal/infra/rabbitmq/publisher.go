package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"order-lifecycle/internal/metrics"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Bus is a topic-based publish/subscribe transport on RabbitMQ. Each topic
// is a fanout exchange; each subscription owns an exclusive server-named
// queue bound to it, so every subscriber instance receives every message.
// Delivery is at-most-once (auto-ack, no retry).
type Bus struct {
	conn    Connection
	log     *logrus.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pub      Channel
	declared map[string]struct{}
	subs     []Channel
	closed   bool
}

type Option func(*Bus)

func WithLogger(l *logrus.Logger) Option {
	return func(b *Bus) { b.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func Dial(amqpURL string, opts ...Option) (*Bus, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	bus, err := NewBus(amqpConnection{conn}, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

func NewBus(conn Connection, opts ...Option) (*Bus, error) {
	pub, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	b := &Bus{
		conn:     conn,
		pub:      pub,
		declared: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logrus.New()
		b.log.SetOutput(io.Discard)
	}
	return b, nil
}

// Publish hands event to the broker and returns without waiting for any
// subscriber. The topic's exchange is declared on first use.
func (b *Bus) Publish(ctx context.Context, topic string, event any) error {
	err := b.publish(ctx, topic, event)
	b.metrics.Published(topic, err)
	return err
}

func (b *Bus) publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish %s: bus closed", topic)
	}
	if _, ok := b.declared[topic]; !ok {
		if err := declareExchange(b.pub, topic); err != nil {
			return err
		}
		b.declared[topic] = struct{}{}
	}

	err = b.pub.Publish(topic, "", false, false, amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		Body:            body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	b.log.WithFields(logrus.Fields{"topic": topic, "bytes": len(body)}).Debug("event published")
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subs {
		_ = ch.Close()
	}
	if b.pub != nil {
		_ = b.pub.Close()
	}
	return b.conn.Close()
}

func declareExchange(ch Channel, topic string) error {
	if err := ch.ExchangeDeclare(topic, amqp.ExchangeFanout, false, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topic, err)
	}
	return nil
}
