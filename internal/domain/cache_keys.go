package domain

import (
	"fmt"

	"github.com/google/uuid"
)

const ProductsAllKey = "products:all"

func OrderKey(id uuid.UUID) string {
	return fmt.Sprintf("order:%s", id)
}

func UserOrdersKey(userID string, page, pageSize int) string {
	return fmt.Sprintf("orders:user:%s:page:%d:size:%d", userID, page, pageSize)
}

// UserOrdersPrefix covers every cached page of a user's order list.
func UserOrdersPrefix(userID string) string {
	return fmt.Sprintf("orders:user:%s:", userID)
}

func ProductKey(id uuid.UUID) string {
	return fmt.Sprintf("product:%s", id)
}

func ProductCategoryKey(category string) string {
	return fmt.Sprintf("products:category:%s", category)
}
