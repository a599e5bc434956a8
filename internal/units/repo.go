package units

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
)

// Repository manages persistence for per-product unit conversions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, productID uuid.UUID, fromUnit, toUnit string) (*models.UnitConversion, error)
	Upsert(ctx context.Context, conversion *models.UnitConversion) error
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.UnitConversion, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a conversion repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil when no row matches.
func (r *repository) Find(ctx context.Context, productID uuid.UUID, fromUnit, toUnit string) (*models.UnitConversion, error) {
	var conversion models.UnitConversion
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND from_unit = ? AND to_unit = ?", productID, fromUnit, toUnit).
		First(&conversion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversion, nil
}

func (r *repository) Upsert(ctx context.Context, conversion *models.UnitConversion) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "from_unit"}, {Name: "to_unit"}},
			DoUpdates: clause.AssignmentColumns([]string{"conversion_factor", "updated_at"}),
		}).
		Create(conversion).Error
}

func (r *repository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.UnitConversion, error) {
	var conversions []models.UnitConversion
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("from_unit ASC, to_unit ASC").
		Find(&conversions).Error; err != nil {
		return nil, err
	}
	return conversions, nil
}
