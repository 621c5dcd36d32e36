package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog records admin-triggered actions (manual release, refund overrides).
type AuditLog struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID   uuid.UUID       `gorm:"column:actor_id;type:uuid;not null"`
	Action    string          `gorm:"column:action;not null"`
	TargetID  uuid.UUID       `gorm:"column:target_id;type:uuid;not null;index"`
	Metadata  json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}
