package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Order is the canonical purchase record. Status is owned by the order state
// machine and mutated only through its transitions.
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID          uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID         uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	Status           enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null"`
	TotalAmountCents int64             `gorm:"column:total_amount_cents;not null"`
	Currency         string            `gorm:"column:currency;not null;default:'BRL'"`
	ExpiresAt        time.Time         `gorm:"column:expires_at;not null"`
	DeliveredAt      *time.Time        `gorm:"column:delivered_at"`
	CompletedAt      *time.Time        `gorm:"column:completed_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// OrderItem snapshots the listing at purchase time. Immutable once created.
type OrderItem struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	ListingID      uuid.UUID          `gorm:"column:listing_id;type:uuid;not null"`
	SellerID       uuid.UUID          `gorm:"column:seller_id;type:uuid;not null"`
	Title          string             `gorm:"column:title;not null"`
	UnitPriceCents int64              `gorm:"column:unit_price_cents;not null"`
	Quantity       int                `gorm:"column:quantity;not null"`
	DeliveryType   enums.DeliveryType `gorm:"column:delivery_type;type:delivery_type_enum;not null"`
	DeliveredAt    *time.Time         `gorm:"column:delivered_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// OrderEvent is the immutable audit record written in the same transaction as
// every status change.
type OrderEvent struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus enums.OrderStatus `gorm:"column:from_status;type:order_status_enum;not null"`
	ToStatus   enums.OrderStatus `gorm:"column:to_status;type:order_status_enum;not null"`
	ActorID    *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	Reason     string            `gorm:"column:reason"`
	Source     enums.EventSource `gorm:"column:source;type:event_source_enum;not null"`
	IP         string            `gorm:"column:ip"`
	UserAgent  string            `gorm:"column:user_agent"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}
