package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Payout is the durable intent record for an external cash-out. It is written
// before the gateway call and finalized by the settlement recording
// transaction; the reconciliation job scans for rows stuck in "sent".
type Payout struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID          `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	SellerID       uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	AmountCents    int64              `gorm:"column:amount_cents;not null"`
	FeeCents       int64              `gorm:"column:fee_cents;not null"`
	Currency       string             `gorm:"column:currency;not null;default:'BRL'"`
	IdempotencyKey string             `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Status         enums.PayoutStatus `gorm:"column:status;type:payout_status_enum;not null;default:'pending'"`
	ProviderRef    *string            `gorm:"column:provider_ref"`
	LastError      *string            `gorm:"column:last_error"`
	SentAt         *time.Time         `gorm:"column:sent_at"`
	RecordedAt     *time.Time         `gorm:"column:recorded_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
