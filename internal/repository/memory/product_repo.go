package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/repository"

	"github.com/google/uuid"
)

type ProductRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[uuid.UUID]domain.Product)}
}

func (r *ProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *ProductRepository) FindAll(ctx context.Context) ([]domain.Product, error) {
	return r.filter(ctx, func(domain.Product) bool { return true })
}

func (r *ProductRepository) FindByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	return r.filter(ctx, func(p domain.Product) bool { return p.Category == category })
}

func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = *product
	return nil
}

func (r *ProductRepository) Update(ctx context.Context, product *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.products[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p := *product
	p.CreatedAt = existing.CreatedAt
	r.products[product.ID] = p
	return nil
}

func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return false, nil
	}
	delete(r.products, id)
	return true, nil
}

// DecrementStock checks and writes under one lock, matching the single
// conditional UPDATE of the SQL gateway.
func (r *ProductRepository) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok || p.StockQuantity < qty {
		return false, nil
	}
	p.StockQuantity -= qty
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return true, nil
}

func (r *ProductRepository) IncrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.StockQuantity += qty
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return nil
}

func (r *ProductRepository) filter(ctx context.Context, match func(domain.Product) bool) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ repository.ProductRepository = (*ProductRepository)(nil)
