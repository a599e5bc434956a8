package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UnitConversion stores to = from * ConversionFactor for one product.
type UnitConversion struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID        uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_unit_conversions_product_units,priority:1" json:"product_id"`
	FromUnit         string          `gorm:"column:from_unit;not null;uniqueIndex:ux_unit_conversions_product_units,priority:2" json:"from_unit"`
	ToUnit           string          `gorm:"column:to_unit;not null;uniqueIndex:ux_unit_conversions_product_units,priority:3" json:"to_unit"`
	ConversionFactor decimal.Decimal `gorm:"column:conversion_factor;type:numeric(18,6);not null" json:"conversion_factor"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (u *UnitConversion) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
