package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockLevel tracks on-hand and reserved quantity, in base units, for one
// product at one location.
type StockLevel struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID        uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_levels_product_location,priority:1" json:"product_id"`
	LocationID       uuid.UUID       `gorm:"column:location_id;type:uuid;not null;uniqueIndex:ux_stock_levels_product_location,priority:2" json:"location_id"`
	Quantity         decimal.Decimal `gorm:"column:quantity;type:numeric(18,6);not null" json:"quantity"`
	ReservedQuantity decimal.Decimal `gorm:"column:reserved_quantity;type:numeric(18,6);not null" json:"reserved_quantity"`
	MinStockLevel    decimal.Decimal `gorm:"column:min_stock_level;type:numeric(18,6);not null" json:"min_stock_level"`
	MaxStockLevel    decimal.Decimal `gorm:"column:max_stock_level;type:numeric(18,6);not null" json:"max_stock_level"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s *StockLevel) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Available is the quantity not held by reservations.
func (s StockLevel) Available() decimal.Decimal {
	return s.Quantity.Sub(s.ReservedQuantity)
}

// BelowMinimum reports whether on-hand stock has fallen under the configured floor.
func (s StockLevel) BelowMinimum() bool {
	return s.Quantity.LessThan(s.MinStockLevel)
}
