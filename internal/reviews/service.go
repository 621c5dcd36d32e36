package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/orders"
	dbpkg "github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const maxCommentLength = 2000

// Service lets buyers rate completed orders, one review per order.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Review, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Review, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Review, error)
	SellerRating(ctx context.Context, sellerID uuid.UUID) (SellerRating, error)
}

type CreateInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Rating  int
	Comment string
}

// SellerRating is the aggregate shown on seller profiles.
type SellerRating struct {
	Average float64
	Count   int64
}

type ServiceParams struct {
	Repo   Repository
	Orders orders.Service
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	orders orders.Service
	logg   *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reviews repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, orders: params.Orders, logg: params.Logger}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Review, error) {
	if input.OrderID == uuid.Nil || input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and buyer ids required")
	}
	if input.Rating < 1 || input.Rating > 5 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}
	comment := strings.TrimSpace(input.Comment)
	if len(comment) > maxCommentLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "comment too long")
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer may review the order")
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed orders can be reviewed")
	}

	review := &models.Review{
		ID:       uuid.New(),
		OrderID:  order.ID,
		BuyerID:  input.BuyerID,
		SellerID: order.SellerID,
		Rating:   input.Rating,
		Comment:  comment,
	}
	if err := s.repo.Create(ctx, review); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_reviews_order_id") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already reviewed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create review")
	}
	return review, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Review, error) {
	review, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "review not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find review")
	}
	return review, nil
}

func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.Review, error) {
	rows, err := s.repo.ListBySellerID(ctx, sellerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reviews")
	}
	return rows, nil
}

func (s *service) SellerRating(ctx context.Context, sellerID uuid.UUID) (SellerRating, error) {
	average, count, err := s.repo.SellerAverage(ctx, sellerID)
	if err != nil {
		return SellerRating{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "aggregate seller rating")
	}
	return SellerRating{Average: average, Count: count}, nil
}
