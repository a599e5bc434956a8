package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/internal/repo"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

// Repository persists reconciliation logs.
type Repository interface {
	Create(ctx context.Context, log *models.ReconciliationLog) error
	Finalize(ctx context.Context, log *models.ReconciliationLog) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationLog, error)
	ListByTerminal(ctx context.Context, terminalID uuid.UUID, limit int) ([]models.ReconciliationLog, error)
	FailStaleRunning(ctx context.Context, cutoff time.Time, note string) (int64, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a reconciliation log repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) Create(ctx context.Context, log *models.ReconciliationLog) error {
	return r.base.DB(ctx).Create(log).Error
}

// Finalize writes counts, status and notes. Zero counts are written explicitly.
func (r *repository) Finalize(ctx context.Context, log *models.ReconciliationLog) error {
	return r.base.DB(ctx).
		Model(&models.ReconciliationLog{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"processed_count": log.ProcessedCount,
			"success_count":   log.SuccessCount,
			"failed_count":    log.FailedCount,
			"status":          log.Status,
			"notes":           log.Notes,
			"updated_at":      log.UpdatedAt,
		}).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationLog, error) {
	var log models.ReconciliationLog
	err := r.base.DB(ctx).Where("id = ?", id).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repository) ListByTerminal(ctx context.Context, terminalID uuid.UUID, limit int) ([]models.ReconciliationLog, error) {
	var logs []models.ReconciliationLog
	if err := r.base.DB(ctx).
		Where("terminal_id = ?", terminalID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// FailStaleRunning marks logs still running since before cutoff as failed.
func (r *repository) FailStaleRunning(ctx context.Context, cutoff time.Time, note string) (int64, error) {
	res := r.base.DB(ctx).
		Model(&models.ReconciliationLog{}).
		Where("status = ? AND created_at < ?", enums.ReconciliationStatusRunning, cutoff.UTC()).
		Updates(map[string]any{
			"status":     enums.ReconciliationStatusFailed,
			"notes":      note,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
