package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

// ReconciliationLog records one batch replay from a terminal.
type ReconciliationLog struct {
	ID             uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TerminalID     uuid.UUID                  `gorm:"column:terminal_id;type:uuid;not null;index" json:"terminal_id"`
	StartTime      time.Time                  `gorm:"column:start_time;not null" json:"start_time"`
	EndTime        time.Time                  `gorm:"column:end_time;not null" json:"end_time"`
	ProcessedCount int                        `gorm:"column:processed_count;not null;default:0" json:"processed_count"`
	SuccessCount   int                        `gorm:"column:success_count;not null;default:0" json:"success_count"`
	FailedCount    int                        `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	Status         enums.ReconciliationStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Notes          *string                    `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (r *ReconciliationLog) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
