package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Dispute is one-to-one with an order once opened and blocks settlement
// release until it reaches a terminal outcome.
type Dispute struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	OpenedByID uuid.UUID           `gorm:"column:opened_by_id;type:uuid;not null"`
	TicketID   uuid.UUID           `gorm:"column:ticket_id;type:uuid;not null"`
	Status     enums.DisputeStatus `gorm:"column:status;type:dispute_status_enum;not null;default:'open'"`
	Reason     string              `gorm:"column:reason;not null"`
	Resolution *string             `gorm:"column:resolution"`
	ResolvedAt *time.Time          `gorm:"column:resolved_at"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// DisputeEvidence is an append-only record attached to an open dispute by
// either participant.
type DisputeEvidence struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DisputeID     uuid.UUID `gorm:"column:dispute_id;type:uuid;not null;index"`
	SubmittedByID uuid.UUID `gorm:"column:submitted_by_id;type:uuid;not null"`
	Body          string    `gorm:"column:body;not null"`
	AttachmentURL *string   `gorm:"column:attachment_url"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (DisputeEvidence) TableName() string { return "dispute_evidence" }

// SupportTicket tracks human follow-up for disputes and manual chargebacks.
type SupportTicket struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	OrderID   *uuid.UUID         `gorm:"column:order_id;type:uuid;index"`
	Subject   string             `gorm:"column:subject;not null"`
	Body      string             `gorm:"column:body;not null"`
	Status    enums.TicketStatus `gorm:"column:status;type:ticket_status_enum;not null;default:'open'"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
