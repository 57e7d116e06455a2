package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/cache"
	"order-lifecycle/internal/metrics"
	"order-lifecycle/internal/mocks"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addProduct(t, TestProductName, TestProductPrice, TestProductQty)

	require.NoError(t, f.stockSvc.Reserve(ctx, p.ID, 4))
	assert.Equal(t, 6, f.stockOf(t, p.ID))

	err := f.stockSvc.Reserve(ctx, p.ID, 7)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Available)
	assert.Equal(t, 6, f.stockOf(t, p.ID))

	assert.ErrorIs(t, f.stockSvc.Reserve(ctx, uuid.New(), 1), domain.ErrProductNotFound)
	assert.ErrorIs(t, f.stockSvc.Reserve(ctx, p.ID, 0), domain.ErrValidation)
	assert.ErrorIs(t, f.stockSvc.Reserve(ctx, p.ID, -2), domain.ErrValidation)
}

func TestReserve_InvalidatesProductEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addProduct(t, TestProductName, TestProductPrice, TestProductQty)

	_, err := f.productSvc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.productSvc.ListProducts(ctx)
	require.NoError(t, err)
	_, err = f.productSvc.ListByCategory(ctx, TestCategory)
	require.NoError(t, err)

	require.NoError(t, f.stockSvc.Reserve(ctx, p.ID, 1))

	assert.False(t, f.mr.Exists(domain.ProductKey(p.ID)))
	assert.False(t, f.mr.Exists(domain.ProductsAllKey))
	assert.False(t, f.mr.Exists(domain.ProductCategoryKey(TestCategory)))

	got, err := f.productSvc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.StockQuantity)
}

func TestReserve_ConcurrentRequestsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addProduct(t, TestProductName, TestProductPrice, 5)

	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.stockSvc.Reserve(ctx, p.ID, 1); err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), succeeded)
	assert.Equal(t, 0, f.stockOf(t, p.ID))
}

func TestReserve_StoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log, _ := test.NewNullLogger()
	repo := new(mocks.MockProductRepository)
	id := uuid.New()
	repo.On("DecrementStock", mock.Anything, id, 2).Return(false, errors.New("deadlock"))

	svc := NewStockService(repo, cache.New(rdb), nil, log)
	err := svc.Reserve(context.Background(), id, 2)

	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrValidation)
	repo.AssertExpectations(t)
}

func TestReserveAll_ReleasesEarlierLinesOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addProduct(t, "a", 10, 5)
	b := f.addProduct(t, "b", 10, 5)
	c := f.addProduct(t, "c", 10, 1)

	reservations, err := f.stockSvc.ReserveAll(ctx, []domain.LineItem{
		{ProductID: a.ID, Quantity: 3},
		{ProductID: b.ID, Quantity: 2},
		{ProductID: c.ID, Quantity: 2},
	})

	assert.Nil(t, reservations)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "c", stockErr.ProductName)
	assert.Equal(t, 5, f.stockOf(t, a.ID))
	assert.Equal(t, 5, f.stockOf(t, b.ID))
	assert.Equal(t, 1, f.stockOf(t, c.ID))
}

func TestReserveAll_ThenReleaseAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addProduct(t, "a", 10, 5)
	b := f.addProduct(t, "b", 10, 5)

	reservations, err := f.stockSvc.ReserveAll(ctx, []domain.LineItem{
		{ProductID: a.ID, Quantity: 3},
		{ProductID: b.ID, Quantity: 5},
	})
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	assert.Equal(t, 2, f.stockOf(t, a.ID))
	assert.Equal(t, 0, f.stockOf(t, b.ID))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	f.stockSvc.ReleaseAll(cancelled, reservations)

	assert.Equal(t, 5, f.stockOf(t, a.ID))
	assert.Equal(t, 5, f.stockOf(t, b.ID))
}

func TestStockService_RecordsReservationMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	svc := NewStockService(f.products, f.cache, m, f.log)
	p := f.addProduct(t, TestProductName, TestProductPrice, 1)

	require.NoError(t, svc.Reserve(ctx, p.ID, 1))
	require.Error(t, svc.Reserve(ctx, p.ID, 1))
	require.Error(t, svc.Reserve(ctx, uuid.New(), 1))
	require.NoError(t, svc.Release(ctx, p.ID, 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reservations.WithLabelValues("released")))
}
