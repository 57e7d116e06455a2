package http

import (
	"order-lifecycle/internal/domain"
)

type CreateOrderRequest struct {
	Lines           []domain.LineItem `json:"lines" binding:"required,min=1"`
	ShippingAddress string            `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
}

type UpdateOrderRequest struct {
	Lines           []domain.LineItem `json:"lines" binding:"required,min=1"`
	ShippingAddress string            `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
}

type UpdateStatusRequest struct {
	Status domain.OrderStatus `json:"status" binding:"required"`
}

type UpdateStatusResponse struct {
	Changed bool `json:"changed"`
}

type SetStockRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
