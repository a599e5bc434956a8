package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

const (
	defaultDLQListLimit = 50
	maxDLQListLimit     = 500
)

// ErrDLQEntryNotFound is returned by Requeue for an unknown id.
var ErrDLQEntryNotFound = errors.New("dlq entry not found")

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	Reason        enums.OutboxDLQErrorReason
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Limit         int
}

// DLQRepository stores outbox rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks entry using the publisher's batch transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return ErrTxRequired
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxLastErrorLen {
		msg := (*entry.ErrorMessage)[:maxLastErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// List returns parked entries, newest failure first.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultDLQListLimit
	case limit > maxDLQListLimit:
		limit = maxDLQListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.Reason != "" {
		q = q.Where("error_reason = ?", filter.Reason)
	}
	if filter.AggregateType != "" {
		q = q.Where("aggregate_type = ?", filter.AggregateType)
	}
	if filter.AggregateID != uuid.Nil {
		q = q.Where("aggregate_id = ?", filter.AggregateID)
	}

	var rows []models.OutboxDLQ
	err := q.Order("failed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Requeue moves a parked entry back into outbox_events with a fresh attempt
// budget and returns the new outbox row id. The envelope keeps its original
// event id so subscribers still dedupe a message they already saw.
func (r *DLQRepository) Requeue(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var requeued uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		if err := tx.First(&entry, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDLQEntryNotFound
			}
			return err
		}

		row := models.OutboxEvent{
			EventType:     entry.EventType,
			AggregateType: entry.AggregateType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert requeued event: %w", err)
		}
		if err := tx.Delete(&models.OutboxDLQ{}, "id = ?", entry.ID).Error; err != nil {
			return fmt.Errorf("delete dlq entry: %w", err)
		}
		requeued = row.ID
		return nil
	})
	return requeued, err
}

// PurgeBefore deletes up to limit entries that failed before cutoff.
func (r *DLQRepository) PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("id").
		Where("failed_at < ?", cutoff.UTC()).
		Order("failed_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
