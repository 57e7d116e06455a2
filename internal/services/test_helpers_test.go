package services

import (
	"context"
	"testing"
	"time"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/cache"
	"order-lifecycle/internal/mocks"
	"order-lifecycle/internal/repository"
	"order-lifecycle/internal/repository/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	TestUserID       = "user-1"
	TestProductName  = "Test Product"
	TestProductPrice = int64(100)
	TestProductQty   = 10
	TestCategory     = "tools"
)

type fixture struct {
	mr       *miniredis.Miniredis
	cache    *cache.Cache
	orders   repository.OrderRepository
	products *memory.ProductRepository
	pub      *mocks.MockPublisher
	log      *logrus.Logger

	productSvc *ProductService
	stockSvc   *StockService
	orderSvc   *OrderService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithOrders(t, memory.NewOrderRepository())
}

func newFixtureWithOrders(t *testing.T, orders repository.OrderRepository) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, _ := test.NewNullLogger()
	f := &fixture{
		mr:       mr,
		cache:    cache.New(rdb, cache.WithLogger(log)),
		orders:   orders,
		products: memory.NewProductRepository(),
		pub:      new(mocks.MockPublisher),
		log:      log,
	}
	f.productSvc = NewProductService(f.products, f.cache, log)
	f.stockSvc = NewStockService(f.products, f.cache, nil, log)
	f.orderSvc = NewOrderService(f.orders, f.stockSvc, f.productSvc, f.cache, f.pub, log)
	return f
}

func (f *fixture) addProduct(t *testing.T, name string, price int64, qty int) *domain.Product {
	t.Helper()
	p := CreateMockProduct(name, price, qty)
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f *fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.products.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.StockQuantity
}

func CreateMockProduct(name string, price int64, qty int) *domain.Product {
	now := time.Now().UTC()
	return &domain.Product{
		ID:            uuid.New(),
		Name:          name,
		Price:         decimal.NewFromInt(price),
		StockQuantity: qty,
		Category:      TestCategory,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func CreateMockOrder(userID string, status domain.OrderStatus) *domain.Order {
	now := time.Now().UTC()
	o := &domain.Order{
		ID:     uuid.New(),
		UserID: userID,
		Lines: []domain.OrderLine{{
			ID:          uuid.New(),
			ProductID:   uuid.New(),
			ProductName: TestProductName,
			UnitPrice:   decimal.NewFromInt(TestProductPrice),
			Quantity:    1,
		}},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Recalculate()
	return o
}
