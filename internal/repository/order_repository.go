package repository

import (
	"context"
	"time"

	"order-lifecycle/internal/domain"

	"github.com/google/uuid"
)

// OrderRepository is the record store gateway for orders. Find methods
// return (nil, nil) when the order does not exist.
type OrderRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	Create(ctx context.Context, order *domain.Order) error
	// Update persists the order fields and replaces its lines.
	Update(ctx context.Context, order *domain.Order) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
