package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

// Product is a sellable item. Wine and olive attributes are only populated for
// the matching product type.
type Product struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SKU          string            `gorm:"column:sku;not null;uniqueIndex:ux_products_sku" json:"sku"`
	Name         string            `gorm:"column:name;not null" json:"name"`
	Description  *string           `gorm:"column:description" json:"description,omitempty"`
	Type         enums.ProductType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	IsActive     bool              `gorm:"column:is_active;not null" json:"is_active"`
	BaseUnit     string            `gorm:"column:base_unit;not null" json:"base_unit"`
	BaseQuantity decimal.Decimal   `gorm:"column:base_quantity;type:numeric(18,6);not null" json:"base_quantity"`

	VintageYear      *int             `gorm:"column:vintage_year" json:"vintage_year,omitempty"`
	VolumeL          *decimal.Decimal `gorm:"column:volume_l;type:numeric(10,3)" json:"volume_l,omitempty"`
	AlcoholPct       *decimal.Decimal `gorm:"column:alcohol_pct;type:numeric(5,2)" json:"alcohol_pct,omitempty"`
	GlassesPerBottle *int             `gorm:"column:glasses_per_bottle" json:"glasses_per_bottle,omitempty"`

	WeightG         *decimal.Decimal `gorm:"column:weight_g;type:numeric(10,2)" json:"weight_g,omitempty"`
	CaloriesPer100g *decimal.Decimal `gorm:"column:calories_per_100g;type:numeric(10,2)" json:"calories_per_100g,omitempty"`
	HasPit          *bool            `gorm:"column:has_pit" json:"has_pit,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// ProductComponent is one edge of a composite product's decomposition.
type ProductComponent struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ParentProductID uuid.UUID       `gorm:"column:parent_product_id;type:uuid;not null;uniqueIndex:ux_product_components_edge,priority:1" json:"parent_product_id"`
	ChildProductID  uuid.UUID       `gorm:"column:child_product_id;type:uuid;not null;uniqueIndex:ux_product_components_edge,priority:2" json:"child_product_id"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:numeric(18,6);not null" json:"quantity"`
	UnitType        string          `gorm:"column:unit_type;not null" json:"unit_type"`
	Position        int             `gorm:"column:position;not null;default:0" json:"position"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (c *ProductComponent) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Location is a store or warehouse holding stock.
type Location struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code      string    `gorm:"column:code;not null;uniqueIndex:ux_locations_code" json:"code"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Address   *string   `gorm:"column:address" json:"address,omitempty"`
	IsActive  bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (l *Location) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
