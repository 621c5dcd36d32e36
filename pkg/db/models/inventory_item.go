package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// InventoryItem is one deliverable unit of stock for an auto-fulfilled listing.
// Rows are never deleted; retired units are soft-disabled.
type InventoryItem struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ListingID   uuid.UUID             `gorm:"column:listing_id;type:uuid;not null;index"`
	Status      enums.InventoryStatus `gorm:"column:status;type:inventory_status_enum;not null;default:'available'"`
	OrderItemID *uuid.UUID            `gorm:"column:order_item_id;type:uuid;uniqueIndex"`
	Payload     string                `gorm:"column:payload;not null"`
	ReservedAt  *time.Time            `gorm:"column:reserved_at"`
	DeliveredAt *time.Time            `gorm:"column:delivered_at"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
