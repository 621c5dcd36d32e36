package reviews

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, review *models.Review) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Review, error)
	ListBySellerID(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Review, error)
	SellerAverage(ctx context.Context, sellerID uuid.UUID) (float64, int64, error)
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

func (r *repository) Create(ctx context.Context, review *models.Review) error {
	return r.db.WithContext(ctx).Create(review).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Review, error) {
	var review models.Review
	if err := r.db.WithContext(ctx).First(&review, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *repository) ListBySellerID(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Review, error) {
	var rows []models.Review
	query := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) SellerAverage(ctx context.Context, sellerID uuid.UUID) (float64, int64, error) {
	var result struct {
		Average *float64
		Count   int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Review{}).
		Select("AVG(rating) AS average, COUNT(*) AS count").
		Where("seller_id = ?", sellerID).
		Scan(&result).Error
	if err != nil {
		return 0, 0, err
	}
	if result.Average == nil {
		return 0, 0, nil
	}
	return *result.Average, result.Count, nil
}
