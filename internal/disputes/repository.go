package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	ListByStatus(ctx context.Context, status enums.DisputeStatus, limit int) ([]models.Dispute, error)
	Save(ctx context.Context, dispute *models.Dispute) error
	CreateTicket(ctx context.Context, ticket *models.SupportTicket) error
	UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, status enums.TicketStatus) error
	CreateEvidence(ctx context.Context, evidence *models.DisputeEvidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).First(&dispute, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var dispute models.Dispute
	if err := query.First(&dispute, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).First(&dispute, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.DisputeStatus, limit int) ([]models.Dispute, error) {
	var rows []models.Dispute
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Save(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Save(dispute).Error
}

func (r *repository) CreateTicket(ctx context.Context, ticket *models.SupportTicket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *repository) UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, status enums.TicketStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.SupportTicket{}).
		Where("id = ?", ticketID).
		Update("status", status).Error
}

func (r *repository) CreateEvidence(ctx context.Context, evidence *models.DisputeEvidence) error {
	return r.db.WithContext(ctx).Create(evidence).Error
}

func (r *repository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeEvidence, error) {
	var rows []models.DisputeEvidence
	err := r.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
