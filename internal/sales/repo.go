package sales

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/repo"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/pagination"
)

// Repository manages persistence for sale transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sale *models.SaleTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error)
	FindByEventID(ctx context.Context, eventID string) (*models.SaleTransaction, error)
	TransitionFromPending(ctx context.Context, id uuid.UUID, status enums.SaleStatus, processedAt time.Time) (bool, error)
	ListPending(ctx context.Context, locationID *uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.SaleTransaction, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SaleTransaction, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a sales repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, sale *models.SaleTransaction) error {
	return r.base.DB(ctx).Create(sale).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
	return firstOrNil(r.base.DB(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.SaleTransaction, error) {
	return firstOrNil(r.base.Locked(ctx).Where("id = ?", id))
}

func (r *repository) FindByEventID(ctx context.Context, eventID string) (*models.SaleTransaction, error) {
	return firstOrNil(r.base.DB(ctx).Where("event_id = ?", eventID))
}

// TransitionFromPending moves a pending row to status. It reports false when
// the row was no longer pending.
func (r *repository) TransitionFromPending(ctx context.Context, id uuid.UUID, status enums.SaleStatus, processedAt time.Time) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.SaleTransaction{}).
		Where("id = ? AND status = ?", id, enums.SaleStatusPending).
		Updates(map[string]any{
			"status":       status,
			"processed_at": processedAt,
			"updated_at":   processedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPending(ctx context.Context, locationID *uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.SaleTransaction, error) {
	q := r.base.DB(ctx).Where("status = ?", enums.SaleStatusPending)
	if locationID != nil {
		q = q.Where("location_id = ?", *locationID)
	}
	if cursor != nil {
		clause, args := cursor.Where()
		q = q.Where(clause, args...)
	}

	var rows []models.SaleTransaction
	if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.SaleTransaction, error) {
	var rows []models.SaleTransaction
	if err := r.base.DB(ctx).
		Where("status = ? AND created_at < ?", enums.SaleStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func firstOrNil(q *gorm.DB) (*models.SaleTransaction, error) {
	var sale models.SaleTransaction
	err := q.First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}
