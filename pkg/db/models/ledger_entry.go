package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// LedgerEntry is the append-only escrow accounting record. Entries are never
// updated or deleted; corrections are new entries.
type LedgerEntry struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type        enums.LedgerEntryType  `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	State       enums.LedgerEntryState `gorm:"column:state;type:ledger_entry_state_enum;not null"`
	Source      enums.LedgerSource     `gorm:"column:source;type:ledger_source_enum;not null"`
	AmountCents int64                  `gorm:"column:amount_cents;not null"`
	Currency    string                 `gorm:"column:currency;not null;default:'BRL'"`
	UserID      uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID     *uuid.UUID             `gorm:"column:order_id;type:uuid;index"`
	PaymentID   *uuid.UUID             `gorm:"column:payment_id;type:uuid"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
}
