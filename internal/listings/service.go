package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// Service manages seller listings.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Listing, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Listing, error)
	SetPublished(ctx context.Context, id, sellerID uuid.UUID, published bool) error
}

// CreateInput carries the fields for a new listing. Listings start unpublished.
type CreateInput struct {
	SellerID       uuid.UUID
	Title          string
	UnitPriceCents int64
	DeliveryType   enums.DeliveryType
}

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Listing, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}
	if input.UnitPriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be positive")
	}
	if !input.DeliveryType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid delivery type")
	}

	listing := &models.Listing{
		ID:             uuid.New(),
		SellerID:       input.SellerID,
		Title:          strings.TrimSpace(input.Title),
		Published:      false,
		UnitPriceCents: input.UnitPriceCents,
		Currency:       "BRL",
		DeliveryType:   input.DeliveryType,
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create listing")
	}
	return listing, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find listing")
	}
	return listing, nil
}

func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Listing, error) {
	rows, err := s.repo.ListBySellerID(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list listings")
	}
	return rows, nil
}

func (s *service) SetPublished(ctx context.Context, id, sellerID uuid.UUID, published bool) error {
	listing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if listing.SellerID != sellerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "listing does not belong to seller")
	}
	if err := s.repo.SetPublished(ctx, id, published); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update listing")
	}
	return nil
}
