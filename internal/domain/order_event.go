package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.statusChanged"
	TopicOrderDeleted       = "order.deleted"
)

// Event is a domain event published on the bus. Values are built once by
// their constructor and never mutated afterwards.
type Event interface {
	Topic() string
	AggregateID() uuid.UUID
}

type OrderCreatedEvent struct {
	OrderID   uuid.UUID   `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOrderCreatedEvent(orderID uuid.UUID) OrderCreatedEvent {
	return OrderCreatedEvent{OrderID: orderID, Status: StatusPending, Timestamp: time.Now().UTC()}
}

func (e OrderCreatedEvent) Topic() string          { return TopicOrderCreated }
func (e OrderCreatedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID   `json:"orderId"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previousStatus"`
	Timestamp      time.Time   `json:"timestamp"`
}

func NewOrderStatusChangedEvent(orderID uuid.UUID, status, previous OrderStatus) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		OrderID:        orderID,
		Status:         status,
		PreviousStatus: previous,
		Timestamp:      time.Now().UTC(),
	}
}

func (e OrderStatusChangedEvent) Topic() string          { return TopicOrderStatusChanged }
func (e OrderStatusChangedEvent) AggregateID() uuid.UUID { return e.OrderID }

type OrderDeletedEvent struct {
	OrderID   uuid.UUID   `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOrderDeletedEvent(orderID uuid.UUID) OrderDeletedEvent {
	return OrderDeletedEvent{OrderID: orderID, Status: StatusDeleted, Timestamp: time.Now().UTC()}
}

func (e OrderDeletedEvent) Topic() string          { return TopicOrderDeleted }
func (e OrderDeletedEvent) AggregateID() uuid.UUID { return e.OrderID }
