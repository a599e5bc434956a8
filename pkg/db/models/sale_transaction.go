package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

// SaleTransaction is a terminal-reported sale. EventID is the idempotency key.
type SaleTransaction struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventID           string           `gorm:"column:event_id;not null;uniqueIndex:ux_sale_transactions_event_id" json:"event_id"`
	ProductID         uuid.UUID        `gorm:"column:product_id;type:uuid;not null;index" json:"product_id"`
	LocationID        uuid.UUID        `gorm:"column:location_id;type:uuid;not null;index:ix_sale_transactions_location_status,priority:1" json:"location_id"`
	TerminalID        *uuid.UUID       `gorm:"column:terminal_id;type:uuid" json:"terminal_id,omitempty"`
	Quantity          decimal.Decimal  `gorm:"column:quantity;type:numeric(18,6);not null" json:"quantity"`
	UnitType          string           `gorm:"column:unit_type;not null" json:"unit_type"`
	ConvertedQuantity decimal.Decimal  `gorm:"column:converted_quantity;type:numeric(18,6);not null" json:"converted_quantity"`
	PricePerUnit      decimal.Decimal  `gorm:"column:price_per_unit;type:numeric(12,2);not null" json:"price_per_unit"`
	TotalAmount       decimal.Decimal  `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	Status            enums.SaleStatus `gorm:"column:status;type:varchar(16);not null;index:ix_sale_transactions_location_status,priority:2" json:"status"`
	TerminalTimestamp *time.Time       `gorm:"column:terminal_timestamp" json:"terminal_timestamp,omitempty"`
	ProcessedAt       *time.Time       `gorm:"column:processed_at" json:"processed_at,omitempty"`
	UserID            *uuid.UUID       `gorm:"column:user_id;type:uuid" json:"user_id,omitempty"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s *SaleTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
