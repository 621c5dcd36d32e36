package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Listing is a seller's offer. Orders snapshot its fields at purchase time, so
// later edits never change past orders.
type Listing struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID       uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	Title          string             `gorm:"column:title;not null"`
	Published      bool               `gorm:"column:published;not null;default:false"`
	UnitPriceCents int64              `gorm:"column:unit_price_cents;not null"`
	Currency       string             `gorm:"column:currency;not null;default:'BRL'"`
	DeliveryType   enums.DeliveryType `gorm:"column:delivery_type;type:delivery_type_enum;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
