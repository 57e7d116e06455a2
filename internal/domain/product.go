package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	Name          string          `json:"name" gorm:"type:varchar(255);not null"`
	Description   string          `json:"description" gorm:"type:text"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(14,2);not null"`
	StockQuantity int             `json:"stockQuantity" gorm:"not null;check:stock_quantity >= 0"`
	Category      string          `json:"category" gorm:"type:varchar(128);index"`
	IsActive      bool            `json:"isActive" gorm:"not null"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
