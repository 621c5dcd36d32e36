package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Payment is one external Pix charge attempt for an order. TxID is the
// provider transaction id that joins future webhook events back to the order.
type Payment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Status      enums.PaymentStatus `gorm:"column:status;type:payment_status_enum;not null;default:'pending'"`
	TxID        string              `gorm:"column:txid;not null;uniqueIndex"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Currency    string              `gorm:"column:currency;not null;default:'BRL'"`
	QRCode      string              `gorm:"column:qr_code"`
	ConfirmedAt *time.Time          `gorm:"column:confirmed_at"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
