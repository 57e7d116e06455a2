package services

import (
	"context"
	"strings"
	"time"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/cache"
	"order-lifecycle/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ProductInput carries the writable product fields. A nil IsActive keeps the
// current value on update and defaults to true on create.
type ProductInput struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	Category      string          `json:"category"`
	IsActive      *bool           `json:"isActive"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Validationf("product name is required")
	}
	if in.Price.IsNegative() {
		return domain.Validationf("product price must not be negative")
	}
	if in.StockQuantity < 0 {
		return domain.Validationf("stock quantity must not be negative")
	}
	return nil
}

type ProductService struct {
	repo  repository.ProductRepository
	cache *cache.Cache
	log   *logrus.Logger
}

func NewProductService(repo repository.ProductRepository, c *cache.Cache, log *logrus.Logger) *ProductService {
	return &ProductService{repo: repo, cache: c, log: log}
}

func (s *ProductService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return cache.GetOrSet(ctx, s.cache, domain.ProductKey(id), 0, func(ctx context.Context) (*domain.Product, error) {
		p, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, domain.ErrProductNotFound
		}
		return p, nil
	})
}

func (s *ProductService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return cache.GetOrSet(ctx, s.cache, domain.ProductsAllKey, 0, s.repo.FindAll)
}

func (s *ProductService) ListByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	return cache.GetOrSet(ctx, s.cache, domain.ProductCategoryKey(category), 0, func(ctx context.Context) ([]domain.Product, error) {
		return s.repo.FindByCategory(ctx, category)
	})
}

func (s *ProductService) CreateProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &domain.Product{
		ID:            uuid.New(),
		Name:          in.Name,
		Description:   in.Description,
		Price:         in.Price,
		StockQuantity: in.StockQuantity,
		Category:      in.Category,
		IsActive:      in.IsActive == nil || *in.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	invalidateProduct(ctx, s.cache, s.log, p.ID, p.Category)
	s.log.WithFields(logrus.Fields{"product_id": p.ID, "name": p.Name}).Info("product created")
	return p, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id uuid.UUID, in ProductInput) (*domain.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	oldCategory := p.Category

	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price
	p.StockQuantity = in.StockQuantity
	p.Category = in.Category
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	invalidateProduct(ctx, s.cache, s.log, p.ID, oldCategory, p.Category)
	return p, nil
}

// SetStock overwrites the stock level. Concurrent reservations made between
// the read and the write are lost; use it for administrative corrections.
func (s *ProductService) SetStock(ctx context.Context, id uuid.UUID, quantity int) (*domain.Product, error) {
	if quantity < 0 {
		return nil, domain.Validationf("stock quantity must not be negative")
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.StockQuantity = quantity
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	invalidateProduct(ctx, s.cache, s.log, p.ID, p.Category)
	return p, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	invalidateProduct(ctx, s.cache, s.log, id, p.Category)
	return deleted, nil
}

func (s *ProductService) load(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

// invalidateProduct evicts the product entry, the full listing and every
// given category listing. The write has already committed, so eviction
// failures are logged and left to expire with the TTL.
func invalidateProduct(ctx context.Context, c *cache.Cache, log *logrus.Logger, id uuid.UUID, categories ...string) {
	keys := []string{domain.ProductKey(id), domain.ProductsAllKey}
	seen := make(map[string]bool, len(categories))
	for _, cat := range categories {
		if seen[cat] {
			continue
		}
		seen[cat] = true
		keys = append(keys, domain.ProductCategoryKey(cat))
	}
	if err := c.Remove(context.WithoutCancel(ctx), keys...); err != nil {
		log.WithError(err).WithField("product_id", id).Error("product cache invalidation failed")
	}
}
