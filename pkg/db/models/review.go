package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is buyer feedback for a completed order. One per order.
type Review struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	BuyerID   uuid.UUID `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID  uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`
	Rating    int       `gorm:"column:rating;not null"`
	Comment   string    `gorm:"column:comment"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
