// Package inproc is an in-process fanout event bus used when no broker is
// configured. It keeps the broker's contract: fire-and-forget publish,
// at-most-once delivery, a private queue per subscription.
package inproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"order-lifecycle/internal/infra/rabbitmq"
	"order-lifecycle/internal/metrics"

	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 256

var ErrClosed = errors.New("bus closed")

type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]*subscription
	queueSize int
	closed    bool
	wg        sync.WaitGroup

	log     *logrus.Logger
	metrics *metrics.Metrics
}

type subscription struct {
	queue chan []byte
	done  chan struct{}
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(b *Bus) { b.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string][]*subscription), queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logrus.New()
		b.log.SetOutput(io.Discard)
	}
	return b
}

// Publish copies event to every current subscriber of topic without
// blocking. A subscriber whose queue is full misses the message.
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

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("publish %s: %w", topic, ErrClosed)
	}
	for _, s := range b.subs[topic] {
		select {
		case s.queue <- body:
		default:
			b.log.WithField("topic", topic).Warn("subscriber queue full, message dropped")
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler rabbitmq.Handler) error {
	s := &subscription{queue: make(chan []byte, b.queueSize), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", topic, ErrClosed)
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(ctx, topic, s, handler)
	return nil
}

func (b *Bus) consume(ctx context.Context, topic string, s *subscription, handler rabbitmq.Handler) {
	defer b.wg.Done()
	defer b.unsubscribe(topic, s)
	log := b.log.WithField("topic", topic)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case body := <-s.queue:
			err := rabbitmq.Dispatch(ctx, handler, body)
			b.metrics.Consumed(topic, err)
			if err != nil {
				log.WithError(err).Error("event handler failed, message dropped")
			}
		}
	}
}

// unsubscribe stops publishes to s once its consumer loop has exited.
func (b *Bus) unsubscribe(topic string, s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, cur := range subs {
		if cur == s {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Close stops every consumer loop and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.done)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

var (
	_ rabbitmq.PublisherInterface  = (*Bus)(nil)
	_ rabbitmq.SubscriberInterface = (*Bus)(nil)
)
