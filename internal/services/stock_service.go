package services

import (
	"context"
	"fmt"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/cache"
	"order-lifecycle/internal/metrics"
	"order-lifecycle/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Reservation records stock taken for one order line so it can be returned.
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
}

// StockService reserves and releases stock. Every decrement is a single
// conditional write at the store, so concurrent reservations never drive
// stock below zero.
type StockService struct {
	repo    repository.ProductRepository
	cache   *cache.Cache
	metrics *metrics.Metrics
	log     *logrus.Logger
}

func NewStockService(repo repository.ProductRepository, c *cache.Cache, m *metrics.Metrics, log *logrus.Logger) *StockService {
	return &StockService{repo: repo, cache: c, metrics: m, log: log}
}

func (s *StockService) Reserve(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.Validationf("quantity must be positive, got %d", quantity)
	}

	ok, err := s.repo.DecrementStock(ctx, productID, quantity)
	if err != nil {
		s.metrics.Reserved("error")
		return fmt.Errorf("reserve stock for %s: %w", productID, err)
	}

	if !ok {
		return s.rejection(ctx, productID, quantity)
	}

	s.invalidate(context.WithoutCancel(ctx), productID)
	s.metrics.Reserved("ok")
	s.log.WithFields(logrus.Fields{"product_id": productID, "quantity": quantity}).Debug("stock reserved")
	return nil
}

// rejection tells a missing product apart from one without enough stock
// after a conditional decrement matched no row.
func (s *StockService) rejection(ctx context.Context, productID uuid.UUID, quantity int) error {
	p, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		s.metrics.Reserved("error")
		return fmt.Errorf("reserve stock for %s: %w", productID, err)
	}
	if p == nil {
		s.metrics.Reserved("not_found")
		return domain.ErrProductNotFound
	}
	s.metrics.Reserved("insufficient")
	return &domain.InsufficientStockError{
		ProductID:   p.ID,
		ProductName: p.Name,
		Requested:   quantity,
		Available:   p.StockQuantity,
	}
}

// invalidate evicts the product's cache entries. The category is looked up
// so its listing is evicted too; without it only the id and full listing go.
func (s *StockService) invalidate(ctx context.Context, productID uuid.UUID) {
	var categories []string
	p, err := s.repo.FindByID(ctx, productID)
	switch {
	case err != nil:
		s.log.WithError(err).WithField("product_id", productID).Warn("reload for invalidation failed")
	case p != nil:
		categories = append(categories, p.Category)
	}
	invalidateProduct(ctx, s.cache, s.log, productID, categories...)
}

// Release returns quantity units to the product. It runs detached from ctx
// cancellation so a compensation is not abandoned halfway.
func (s *StockService) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.Validationf("quantity must be positive, got %d", quantity)
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.IncrementStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("release stock for %s: %w", productID, err)
	}
	s.invalidate(ctx, productID)
	s.metrics.Reserved("released")
	return nil
}

// ReserveAll reserves every line in order. If any line fails, the lines
// already reserved are released before the failure is returned.
func (s *StockService) ReserveAll(ctx context.Context, lines []domain.LineItem) ([]Reservation, error) {
	reserved := make([]Reservation, 0, len(lines))
	for _, l := range lines {
		if err := s.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			s.ReleaseAll(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, Reservation{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return reserved, nil
}

// ReleaseAll is best effort: failures are logged and the remaining
// reservations are still released.
func (s *StockService) ReleaseAll(ctx context.Context, reservations []Reservation) {
	for _, r := range reservations {
		if err := s.Release(ctx, r.ProductID, r.Quantity); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"product_id": r.ProductID,
				"quantity":   r.Quantity,
			}).Error("stock release failed")
		}
	}
}
