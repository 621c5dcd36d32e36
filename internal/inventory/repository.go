package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Repository manages persistence for inventory items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, items []models.InventoryItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error)
	FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.InventoryItem, error)
	FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error)
	LockOneAvailable(ctx context.Context, listingID uuid.UUID) (*models.InventoryItem, error)
	Update(ctx context.Context, item *models.InventoryItem) error
	CountByStatus(ctx context.Context, listingID uuid.UUID, status enums.InventoryStatus) (int64, error)
	ListByListingID(ctx context.Context, listingID uuid.UUID) ([]models.InventoryItem, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, items []models.InventoryItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("order_item_id = ?", orderItemID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindListing(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", listingID).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// LockOneAvailable picks one free unit and row-locks it for the remainder of
// the transaction. On Postgres the lock skips units held by concurrent
// reservations instead of queueing behind them.
func (r *repository) LockOneAvailable(ctx context.Context, listingID uuid.UUID) (*models.InventoryItem, error) {
	query := r.db.WithContext(ctx).
		Where("listing_id = ? AND status = ?", listingID, enums.InventoryStatusAvailable).
		Order("created_at ASC").
		Limit(1)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var item models.InventoryItem
	if err := query.First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) Update(ctx context.Context, item *models.InventoryItem) error {
	item.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *repository) CountByStatus(ctx context.Context, listingID uuid.UUID, status enums.InventoryStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("listing_id = ? AND status = ?", listingID, status).
		Count(&count).Error
	return count, err
}

func (r *repository) ListByListingID(ctx context.Context, listingID uuid.UUID) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}
