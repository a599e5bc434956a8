package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/repo"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
)

// Repository manages persistence for products, their components and locations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateProduct(ctx context.Context, product *models.Product) error
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindProducts(ctx context.Context, ids []uuid.UUID, activeOnly bool) ([]models.Product, error)
	ListComponents(ctx context.Context, parentID uuid.UUID) ([]models.ProductComponent, error)
	ReplaceComponents(ctx context.Context, parentID uuid.UUID, components []models.ProductComponent) error
	CreateLocation(ctx context.Context, location *models.Location) error
	FindLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	ListStockAtLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

// CreateProduct writes every column so an explicit is_active=false is kept.
func (r *repository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.base.DB(ctx).Select("*").Create(product).Error
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.base.DB(ctx).Where("id = ?", id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindProducts(ctx context.Context, ids []uuid.UUID, activeOnly bool) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.base.DB(ctx).Where("id IN ?", ids)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var products []models.Product
	if err := q.Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repository) ListComponents(ctx context.Context, parentID uuid.UUID) ([]models.ProductComponent, error) {
	var components []models.ProductComponent
	if err := r.base.DB(ctx).
		Where("parent_product_id = ?", parentID).
		Order("position ASC").
		Find(&components).Error; err != nil {
		return nil, err
	}
	return components, nil
}

// ReplaceComponents must run inside a transaction.
func (r *repository) ReplaceComponents(ctx context.Context, parentID uuid.UUID, components []models.ProductComponent) error {
	if err := r.base.DB(ctx).
		Where("parent_product_id = ?", parentID).
		Delete(&models.ProductComponent{}).Error; err != nil {
		return err
	}
	if len(components) == 0 {
		return nil
	}
	return r.base.DB(ctx).Create(&components).Error
}

func (r *repository) CreateLocation(ctx context.Context, location *models.Location) error {
	return r.base.DB(ctx).Select("*").Create(location).Error
}

func (r *repository) FindLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	err := r.base.DB(ctx).Where("id = ?", id).First(&location).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) ListStockAtLocation(ctx context.Context, locationID uuid.UUID) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	if err := r.base.DB(ctx).
		Where("location_id = ?", locationID).
		Order("created_at ASC").
		Find(&levels).Error; err != nil {
		return nil, err
	}
	return levels, nil
}
