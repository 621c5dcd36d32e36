package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a marketplace account. Buyers and sellers share the table;
// payout fields only matter for sellers.
type User struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string    `gorm:"column:email;not null;uniqueIndex"`
	DisplayName   string    `gorm:"column:display_name;not null"`
	PixKey        *string   `gorm:"column:pix_key"`
	PayoutBlocked bool      `gorm:"column:payout_blocked;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
