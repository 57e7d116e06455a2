package rabbitmq

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
)

// Subscribe binds a fresh exclusive queue to topic and starts a consumer
// goroutine that calls handler once per delivery. It returns once the
// subscription is established. Handler errors and panics are logged and the
// message is dropped; the loop keeps running until ctx ends or the broker
// closes the delivery channel.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for %s: %w", topic, err)
	}
	deliveries, err := bind(ch, topic)
	if err != nil {
		_ = ch.Close()
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ch.Close()
		return fmt.Errorf("subscribe %s: bus closed", topic)
	}
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go b.consume(ctx, topic, deliveries, handler)
	return nil
}

func bind(ch Channel, topic string) (<-chan amqp.Delivery, error) {
	if err := declareExchange(ch, topic); err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue for %s: %w", topic, err)
	}
	if err := ch.QueueBind(q.Name, "", topic, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, topic, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}
	return deliveries, nil
}

func (b *Bus) consume(ctx context.Context, topic string, deliveries <-chan amqp.Delivery, handler Handler) {
	log := b.log.WithField("topic", topic)
	log.Info("subscription started")
	for {
		select {
		case <-ctx.Done():
			log.Info("subscription stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("delivery channel closed")
				return
			}
			err := Dispatch(ctx, handler, d.Body)
			b.metrics.Consumed(topic, err)
			if err != nil {
				log.WithError(err).Error("event handler failed, message dropped")
			}
		}
	}
}

// Dispatch runs handler for a single message and converts a panic into an
// error so one bad message cannot stop a consumer loop.
func Dispatch(ctx context.Context, handler Handler, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, body)
}
