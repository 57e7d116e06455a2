package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusCompleted  OrderStatus = "completed"
	StatusDeleted    OrderStatus = "deleted"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered,
		StatusCancelled, StatusCompleted, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transition is expected.
// Transitions are not enforced; this only informs callers and logs.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusCompleted, StatusDeleted:
		return true
	default:
		return false
	}
}

type Order struct {
	ID              uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	UserID          string          `json:"userId" gorm:"type:varchar(64);not null;index"`
	Lines           []OrderLine     `json:"lines" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	TotalAmount     decimal.Decimal `json:"totalAmount" gorm:"type:decimal(14,2);not null"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ShippingAddress string          `json:"shippingAddress" gorm:"type:varchar(512)"`
	PaymentMethod   string          `json:"paymentMethod" gorm:"type:varchar(64)"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type OrderLine struct {
	ID          uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	OrderID     uuid.UUID       `json:"orderId" gorm:"type:char(36);not null;index"`
	ProductID   uuid.UUID       `json:"productId" gorm:"type:char(36);not null"`
	ProductName string          `json:"productName" gorm:"type:varchar(255);not null"`
	UnitPrice   decimal.Decimal `json:"unitPrice" gorm:"type:decimal(14,2);not null"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	TotalPrice  decimal.Decimal `json:"totalPrice" gorm:"type:decimal(14,2);not null"`
	Position    int             `json:"-" gorm:"not null"`
}

// Recalculate derives every line total and the order total from unit
// prices and quantities, and stamps line ownership and display order.
func (o *Order) Recalculate() {
	total := decimal.Zero
	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		l.Position = i
		l.TotalPrice = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		total = total.Add(l.TotalPrice)
	}
	o.TotalAmount = total
}

// Clone returns a deep copy so stored orders never alias caller memory.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Lines != nil {
		c.Lines = make([]OrderLine, len(o.Lines))
		copy(c.Lines, o.Lines)
	}
	return &c
}

// LineItem is a requested order line before pricing.
type LineItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

type PagedResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}
