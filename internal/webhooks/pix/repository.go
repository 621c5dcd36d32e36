package pixwebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
)

const providerPix = "pix"

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.WebhookEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	FindByEventKey(ctx context.Context, eventKey string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID, processedAt time.Time) error
	ListUnprocessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.WebhookEvent, error)
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

func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var event models.WebhookEvent
	if err := query.First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByEventKey(ctx context.Context, eventKey string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_key = ?", providerPix, eventKey).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListUnprocessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.WebhookEvent, error) {
	var rows []models.WebhookEvent
	query := r.db.WithContext(ctx).
		Where("provider = ? AND processed_at IS NULL AND created_at < ?", providerPix, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID, processedAt time.Time) error {
	updates := map[string]any{"processed_at": processedAt}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
