package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Terminal is a point-of-sale device. SecretKey signs its requests and is never
// serialized.
type Terminal struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code          string     `gorm:"column:code;not null;uniqueIndex:ux_terminals_code" json:"code"`
	Name          string     `gorm:"column:name;not null" json:"name"`
	LocationID    uuid.UUID  `gorm:"column:location_id;type:uuid;not null" json:"location_id"`
	SecretKey     string     `gorm:"column:secret_key;not null" json:"-"`
	IsActive      bool       `gorm:"column:is_active;not null" json:"is_active"`
	LastHeartbeat *time.Time `gorm:"column:last_heartbeat" json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (t *Terminal) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
