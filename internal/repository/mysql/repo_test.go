package mysql

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-lifecycle/internal/domain"
	mmysql "order-lifecycle/internal/infra/mysql"
	"order-lifecycle/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepos(t *testing.T) (repository.OrderRepository, repository.ProductRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// SQLite allows one writer; a single connection serialises the
	// statements without "database is locked" errors.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, mmysql.Migrate(db))

	log, _ := test.NewNullLogger()
	return NewOrderRepository(db, log), NewProductRepository(db, log)
}

func newProduct(name string, stock int) *domain.Product {
	now := time.Now().UTC()
	return &domain.Product{
		ID:            uuid.New(),
		Name:          name,
		Price:         decimal.NewFromInt(100),
		StockQuantity: stock,
		Category:      "tools",
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newOrder(userID string, createdAt time.Time, lines ...domain.OrderLine) *domain.Order {
	o := &domain.Order{
		ID:        uuid.New(),
		UserID:    userID,
		Lines:     lines,
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	o.Recalculate()
	return o
}

func line(name string, price int64, qty int) domain.OrderLine {
	return domain.OrderLine{
		ID:          uuid.New(),
		ProductID:   uuid.New(),
		ProductName: name,
		UnitPrice:   decimal.NewFromInt(price),
		Quantity:    qty,
	}
}

func TestProductRepo_CreateKeepsInactiveFlag(t *testing.T) {
	_, products := newTestRepos(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		active bool
	}{
		{name: "inactive", active: false},
		{name: "active", active: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProduct(tt.name, 1)
			p.IsActive = tt.active
			require.NoError(t, products.Create(ctx, p))

			got, err := products.FindByID(ctx, p.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.active, got.IsActive)
			assert.True(t, p.Price.Equal(got.Price))
		})
	}
}

func TestProductRepo_DecrementStock(t *testing.T) {
	_, products := newTestRepos(t)
	ctx := context.Background()
	p := newProduct("widget", 5)
	require.NoError(t, products.Create(ctx, p))

	tests := []struct {
		name      string
		id        uuid.UUID
		qty       int
		expected  bool
		remaining int
	}{
		{name: "sufficient", id: p.ID, qty: 3, expected: true, remaining: 2},
		{name: "short", id: p.ID, qty: 3, expected: false, remaining: 2},
		{name: "exact", id: p.ID, qty: 2, expected: true, remaining: 0},
		{name: "missing", id: uuid.New(), qty: 1, expected: false, remaining: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := products.DecrementStock(ctx, tt.id, tt.qty)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)

			got, err := products.FindByID(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, got.StockQuantity)
		})
	}
}

func TestProductRepo_DecrementStockNeverOversells(t *testing.T) {
	_, products := newTestRepos(t)
	ctx := context.Background()
	p := newProduct("widget", 10)
	require.NoError(t, products.Create(ctx, p))

	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := products.DecrementStock(ctx, p.ID, 1)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, 0, got.StockQuantity)
}

func TestProductRepo_IncrementStock(t *testing.T) {
	_, products := newTestRepos(t)
	ctx := context.Background()
	p := newProduct("widget", 1)
	require.NoError(t, products.Create(ctx, p))

	require.NoError(t, products.IncrementStock(ctx, p.ID, 4))
	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)

	assert.ErrorIs(t, products.IncrementStock(ctx, uuid.New(), 1), domain.ErrProductNotFound)
}

func TestProductRepo_UpdateAndDelete(t *testing.T) {
	_, products := newTestRepos(t)
	ctx := context.Background()
	p := newProduct("widget", 1)
	require.NoError(t, products.Create(ctx, p))

	p.Category = "garden"
	p.IsActive = false
	require.NoError(t, products.Update(ctx, p))
	garden, err := products.FindByCategory(ctx, "garden")
	require.NoError(t, err)
	require.Len(t, garden, 1)
	assert.False(t, garden[0].IsActive)

	assert.ErrorIs(t, products.Update(ctx, newProduct("ghost", 1)), domain.ErrProductNotFound)

	deleted, err := products.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err := products.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOrderRepo_CreateKeepsLineOrder(t *testing.T) {
	orders, _ := newTestRepos(t)
	ctx := context.Background()
	o := newOrder("u1", time.Now().UTC(), line("c", 10, 1), line("a", 20, 2), line("b", 30, 3))
	require.NoError(t, orders.Create(ctx, o))

	got, err := orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Lines, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got.Lines[0].ProductName, got.Lines[1].ProductName, got.Lines[2].ProductName})
	assert.True(t, decimal.NewFromInt(140).Equal(got.TotalAmount))

	missing, err := orders.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrderRepo_UpdateReplacesLines(t *testing.T) {
	orders, _ := newTestRepos(t)
	ctx := context.Background()
	o := newOrder("u1", time.Now().UTC(), line("a", 10, 1), line("b", 20, 1))
	require.NoError(t, orders.Create(ctx, o))

	o.Lines = []domain.OrderLine{line("c", 50, 2)}
	o.ShippingAddress = "new address"
	o.Recalculate()
	require.NoError(t, orders.Update(ctx, o))

	got, err := orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "c", got.Lines[0].ProductName)
	assert.True(t, decimal.NewFromInt(100).Equal(got.TotalAmount))
	assert.Equal(t, "new address", got.ShippingAddress)

	ghost := newOrder("u1", time.Now().UTC(), line("x", 1, 1))
	assert.ErrorIs(t, orders.Update(ctx, ghost), domain.ErrOrderNotFound)
}

func TestOrderRepo_FindByUserPagesNewestFirst(t *testing.T) {
	orders, _ := newTestRepos(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		o := newOrder("u1", base.Add(time.Duration(i)*time.Minute), line("a", 10, 1))
		ids = append(ids, o.ID)
		require.NoError(t, orders.Create(ctx, o))
	}
	require.NoError(t, orders.Create(ctx, newOrder("u2", base, line("a", 10, 1))))

	page1, err := orders.FindByUser(ctx, "u1", 1, 2)
	require.NoError(t, err)
	page3, err := orders.FindByUser(ctx, "u1", 3, 2)
	require.NoError(t, err)
	count, err := orders.CountByUser(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, page1, 2)
	assert.Equal(t, ids[4], page1[0].ID)
	assert.Equal(t, ids[3], page1[1].ID)
	assert.Len(t, page1[0].Lines, 1)
	require.Len(t, page3, 1)
	assert.Equal(t, ids[0], page3[0].ID)
	assert.Equal(t, int64(5), count)
}

func TestOrderRepo_StatusAndDelete(t *testing.T) {
	orders, _ := newTestRepos(t)
	ctx := context.Background()
	o := newOrder("u1", time.Now().UTC(), line("a", 10, 1))
	require.NoError(t, orders.Create(ctx, o))

	require.NoError(t, orders.UpdateStatus(ctx, o.ID, domain.StatusShipped, time.Now().UTC()))
	got, err := orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, got.Status)
	assert.ErrorIs(t, orders.UpdateStatus(ctx, uuid.New(), domain.StatusShipped, time.Now().UTC()), domain.ErrOrderNotFound)

	deleted, err := orders.Delete(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = orders.Delete(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
