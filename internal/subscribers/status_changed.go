// Package subscribers consumes order events from the bus.
package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/rabbitmq"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StatusApplier persists a status without publishing anything, so applying a
// consumed event never produces another one.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
}

type StatusChangedSubscriber struct {
	bus     rabbitmq.SubscriberInterface
	applier StatusApplier
	log     *logrus.Logger
}

func NewStatusChangedSubscriber(bus rabbitmq.SubscriberInterface, applier StatusApplier, log *logrus.Logger) *StatusChangedSubscriber {
	return &StatusChangedSubscriber{bus: bus, applier: applier, log: log}
}

// Start subscribes to status-changed events. Messages are handled until ctx
// is cancelled or the bus is closed.
func (s *StatusChangedSubscriber) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, domain.TopicOrderStatusChanged, s.Handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicOrderStatusChanged, err)
	}
	return nil
}

// Handle applies one event. Messages that can never succeed are logged and
// dropped; other failures are returned to the bus.
func (s *StatusChangedSubscriber) Handle(ctx context.Context, body []byte) error {
	var evt domain.OrderStatusChangedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		s.log.WithError(err).WithField("body", string(body)).Error("malformed status change event dropped")
		return nil
	}
	log := s.log.WithFields(logrus.Fields{"order_id": evt.OrderID, "status": evt.Status})
	if evt.OrderID == uuid.Nil {
		log.Error("status change event without order id dropped")
		return nil
	}

	err := s.applier.ApplyStatus(ctx, evt.OrderID, evt.Status)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		log.Warn("status change for unknown order dropped")
		return nil
	case errors.Is(err, domain.ErrValidation):
		log.WithError(err).Warn("invalid status change dropped")
		return nil
	case err != nil:
		return fmt.Errorf("apply status to order %s: %w", evt.OrderID, err)
	}
	log.Info("order status applied")
	return nil
}
