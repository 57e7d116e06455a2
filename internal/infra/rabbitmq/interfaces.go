package rabbitmq

import (
	"context"

	"github.com/streadway/amqp"
)

// Handler receives the raw JSON body of one event.
type Handler func(ctx context.Context, body []byte) error

type PublisherInterface interface {
	Publish(ctx context.Context, topic string, event any) error
}

type SubscriberInterface interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// Channel is the subset of *amqp.Channel the bus uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

var (
	_ PublisherInterface  = (*Bus)(nil)
	_ SubscriberInterface = (*Bus)(nil)
	_ Channel             = (*amqp.Channel)(nil)
)
