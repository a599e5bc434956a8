package terminals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/repo"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
)

// Repository persists point-of-sale terminals.
type Repository interface {
	Create(ctx context.Context, terminal *models.Terminal) error
	FindByCode(ctx context.Context, code string) (*models.Terminal, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Terminal, error)
	TouchHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type repository struct {
	base repo.Base
}

// NewRepository returns a terminal repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) Create(ctx context.Context, terminal *models.Terminal) error {
	return r.base.DB(ctx).Select("*").Create(terminal).Error
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Terminal, error) {
	return r.findOne(ctx, "code = ?", code)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Terminal, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Terminal, error) {
	var terminal models.Terminal
	err := r.base.DB(ctx).Where(query, arg).First(&terminal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &terminal, nil
}

func (r *repository) TouchHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.base.DB(ctx).
		Model(&models.Terminal{}).
		Where("id = ?", id).
		UpdateColumn("last_heartbeat", at).Error
}

func (r *repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.base.DB(ctx).
		Model(&models.Terminal{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
