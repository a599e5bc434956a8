package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockledger-backend/internal/repo"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
)

// defaultMaxStockLevel matches the column default for rows created lazily.
var defaultMaxStockLevel = decimal.NewFromInt(999999)

// Repository manages persistence for stock levels.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, key Key) (*models.StockLevel, error)
	FindForUpdate(ctx context.Context, key Key) (*models.StockLevel, error)
	EnsureRow(ctx context.Context, key Key) error
	SaveLevels(ctx context.Context, level *models.StockLevel) error
	ListByLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

// Find returns nil when the key has no row.
func (r *repository) Find(ctx context.Context, key Key) (*models.StockLevel, error) {
	return r.first(r.base.DB(ctx), key)
}

// FindForUpdate is Find with the row locked until the transaction ends.
func (r *repository) FindForUpdate(ctx context.Context, key Key) (*models.StockLevel, error) {
	return r.first(r.base.Locked(ctx), key)
}

func (r *repository) first(q *gorm.DB, key Key) (*models.StockLevel, error) {
	var level models.StockLevel
	err := q.Where("product_id = ? AND location_id = ?", key.ProductID, key.LocationID).First(&level).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// EnsureRow inserts an empty level for key unless one already exists.
func (r *repository) EnsureRow(ctx context.Context, key Key) error {
	level := models.StockLevel{
		ProductID:        key.ProductID,
		LocationID:       key.LocationID,
		Quantity:         decimal.Zero,
		ReservedQuantity: decimal.Zero,
		MinStockLevel:    decimal.Zero,
		MaxStockLevel:    defaultMaxStockLevel,
	}
	return r.base.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
			DoNothing: true,
		}).
		Create(&level).Error
}

func (r *repository) SaveLevels(ctx context.Context, level *models.StockLevel) error {
	now := time.Now().UTC()
	err := r.base.DB(ctx).
		Model(&models.StockLevel{}).
		Where("id = ?", level.ID).
		Updates(map[string]any{
			"quantity":          level.Quantity,
			"reserved_quantity": level.ReservedQuantity,
			"min_stock_level":   level.MinStockLevel,
			"max_stock_level":   level.MaxStockLevel,
			"updated_at":        now,
		}).Error
	if err != nil {
		return err
	}
	level.UpdatedAt = now
	return nil
}

func (r *repository) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	if err := r.base.DB(ctx).
		Where("location_id = ?", locationID).
		Order("product_id ASC").
		Find(&levels).Error; err != nil {
		return nil, err
	}
	return levels, nil
}
