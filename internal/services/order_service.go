package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-lifecycle/internal/domain"
	"order-lifecycle/internal/infra/cache"
	rabbit "order-lifecycle/internal/infra/rabbitmq"
	"order-lifecycle/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type CreateOrderCommand struct {
	UserID          string            `json:"userId"`
	Lines           []domain.LineItem `json:"lines"`
	ShippingAddress string            `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
}

// UpdateOrderCommand replaces an order's lines. Empty address or payment
// fields keep the stored values.
type UpdateOrderCommand struct {
	ID              uuid.UUID         `json:"id"`
	Lines           []domain.LineItem `json:"lines"`
	ShippingAddress string            `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
}

// OrderService owns the order lifecycle. Status changes are published as
// events and persisted by the status-changed subscriber through ApplyStatus.
type OrderService struct {
	orders    repository.OrderRepository
	stock     *StockService
	products  *ProductService
	cache     *cache.Cache
	publisher rabbit.PublisherInterface
	log       *logrus.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	stock *StockService,
	products *ProductService,
	c *cache.Cache,
	publisher rabbit.PublisherInterface,
	log *logrus.Logger,
) *OrderService {
	return &OrderService{
		orders:    orders,
		stock:     stock,
		products:  products,
		cache:     c,
		publisher: publisher,
		log:       log,
	}
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return cache.GetOrSet(ctx, s.cache, domain.OrderKey(id), 0, func(ctx context.Context) (*domain.Order, error) {
		return s.load(ctx, id)
	})
}

func (s *OrderService) ListOrders(ctx context.Context, ownerID string, page, pageSize int) (*domain.PagedResult[domain.Order], error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.Validationf("owner is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	key := domain.UserOrdersKey(ownerID, page, pageSize)
	return cache.GetOrSet(ctx, s.cache, key, 0, func(ctx context.Context) (*domain.PagedResult[domain.Order], error) {
		items, err := s.orders.FindByUser(ctx, ownerID, page, pageSize)
		if err != nil {
			return nil, err
		}
		total, err := s.orders.CountByUser(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return &domain.PagedResult[domain.Order]{Items: items, TotalCount: total, Page: page, PageSize: pageSize}, nil
	})
}

func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, domain.Validationf("owner is required")
	}
	products, err := s.checkLines(ctx, cmd.Lines)
	if err != nil {
		return nil, err
	}
	reservations, err := s.stock.ReserveAll(ctx, cmd.Lines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          cmd.UserID,
		Lines:           snapshotLines(cmd.Lines, products),
		Status:          domain.StatusPending,
		ShippingAddress: cmd.ShippingAddress,
		PaymentMethod:   cmd.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.Recalculate()

	if err := s.orders.Create(ctx, order); err != nil {
		s.stock.ReleaseAll(ctx, reservations)
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order created")

	pubErr := s.publish(ctx, domain.NewOrderCreatedEvent(order.ID))
	s.invalidateOwner(ctx, order.UserID)
	if pubErr != nil {
		return nil, pubErr
	}
	return order, nil
}

func (s *OrderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (*domain.Order, error) {
	order, err := s.load(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	products, err := s.checkLines(ctx, cmd.Lines)
	if err != nil {
		return nil, err
	}
	reservations, err := s.stock.ReserveAll(ctx, cmd.Lines)
	if err != nil {
		return nil, err
	}

	order.Lines = snapshotLines(cmd.Lines, products)
	if cmd.ShippingAddress != "" {
		order.ShippingAddress = cmd.ShippingAddress
	}
	if cmd.PaymentMethod != "" {
		order.PaymentMethod = cmd.PaymentMethod
	}
	order.UpdatedAt = time.Now().UTC()
	order.Recalculate()

	if err := s.orders.Update(ctx, order); err != nil {
		s.stock.ReleaseAll(ctx, reservations)
		return nil, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	s.invalidateOrder(ctx, order)
	return order, nil
}

// CancelOrder marks the order cancelled. Stock is not returned and no event
// is published.
func (s *OrderService) CancelOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Status = domain.StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := s.orders.UpdateStatus(ctx, order.ID, order.Status, order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", id, err)
	}
	s.invalidateOrder(ctx, order)
	return order, nil
}

// UpdateOrderStatus publishes a status change and reports whether one was
// published. The new status is stored when the event is consumed.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (bool, error) {
	if !status.IsValid() {
		return false, domain.Validationf("unknown order status %q", status)
	}
	order, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if order.Status == status {
		return false, nil
	}

	fields := logrus.Fields{"order_id": id, "from": order.Status, "to": status}
	if order.Status.IsTerminal() {
		s.log.WithFields(fields).Warn("status change requested for order in terminal state")
	}
	if err := s.publish(ctx, domain.NewOrderStatusChangedEvent(id, status, order.Status)); err != nil {
		return false, err
	}
	s.log.WithFields(fields).Info("order status change published")
	return true, nil
}

// ApplyStatus stores status without publishing. Applying the current status
// is a no-op.
func (s *OrderService) ApplyStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	if !status.IsValid() {
		return domain.Validationf("unknown order status %q", status)
	}
	order, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if order.Status == status {
		return nil
	}
	if err := s.orders.UpdateStatus(ctx, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("apply status to order %s: %w", id, err)
	}
	s.invalidateOrder(ctx, order)
	return nil
}

// DeleteOrder removes the order and reports whether it existed. When the
// deleted event cannot be published the order is already gone and deleted is
// still true.
func (s *OrderService) DeleteOrder(ctx context.Context, id uuid.UUID) (deleted bool, err error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}
	deleted, err = s.orders.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete order %s: %w", id, err)
	}
	if !deleted {
		return false, nil
	}

	s.invalidateOrder(ctx, order)
	if err := s.publish(ctx, domain.NewOrderDeletedEvent(id)); err != nil {
		return true, err
	}
	s.log.WithField("order_id", id).Info("order deleted")
	return true, nil
}

// checkLines validates the requested lines against current products without
// touching stock. Quantities of repeated products are summed.
func (s *OrderService) checkLines(ctx context.Context, lines []domain.LineItem) (map[uuid.UUID]*domain.Product, error) {
	if len(lines) == 0 {
		return nil, domain.Validationf("order needs at least one line")
	}
	requested := make(map[uuid.UUID]int, len(lines))
	for i, l := range lines {
		if l.ProductID == uuid.Nil {
			return nil, domain.Validationf("line %d: product is required", i+1)
		}
		if l.Quantity <= 0 {
			return nil, domain.Validationf("line %d: quantity must be positive", i+1)
		}
		requested[l.ProductID] += l.Quantity
	}

	products := make(map[uuid.UUID]*domain.Product, len(requested))
	for _, l := range lines {
		if _, ok := products[l.ProductID]; ok {
			continue
		}
		p, err := s.products.GetProduct(ctx, l.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			// An order line naming an unknown product is a bad request, not a missing order.
			return nil, fmt.Errorf("%w: %w %s", domain.ErrValidation, err, l.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, domain.Validationf("product %s is not available", p.Name)
		}
		if want := requested[p.ID]; want > p.StockQuantity {
			return nil, &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   want,
				Available:   p.StockQuantity,
			}
		}
		products[l.ProductID] = p
	}
	return products, nil
}

func snapshotLines(items []domain.LineItem, products map[uuid.UUID]*domain.Product) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		p := products[it.ProductID]
		lines = append(lines, domain.OrderLine{
			ID:          uuid.New(),
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
		})
	}
	return lines
}

func (s *OrderService) load(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *OrderService) publish(ctx context.Context, evt domain.Event) error {
	if err := s.publisher.Publish(ctx, evt.Topic(), evt); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"topic":    evt.Topic(),
			"order_id": evt.AggregateID(),
		}).Error("failed to publish event")
		return fmt.Errorf("publish %s: %w", evt.Topic(), err)
	}
	return nil
}

func (s *OrderService) invalidateOrder(ctx context.Context, o *domain.Order) {
	if err := s.cache.Remove(context.WithoutCancel(ctx), domain.OrderKey(o.ID)); err != nil {
		s.log.WithError(err).WithField("order_id", o.ID).Error("order cache invalidation failed")
	}
	s.invalidateOwner(ctx, o.UserID)
}

func (s *OrderService) invalidateOwner(ctx context.Context, userID string) {
	if err := s.cache.RemovePrefix(context.WithoutCancel(ctx), domain.UserOrdersPrefix(userID)); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("order list invalidation failed")
	}
}
