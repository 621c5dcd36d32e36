package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent stores raw provider notifications with deduplication metadata.
// The unique (provider, event_key) constraint, not application logic, is the
// source of truth for "have I seen this before".
type WebhookEvent struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider    string          `gorm:"column:provider;not null;uniqueIndex:ux_webhook_events_provider_key,priority:1"`
	EventKey    string          `gorm:"column:event_key;not null;uniqueIndex:ux_webhook_events_provider_key,priority:2"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	PaymentID   *uuid.UUID      `gorm:"column:payment_id;type:uuid"`
	ProcessedAt *time.Time      `gorm:"column:processed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}
