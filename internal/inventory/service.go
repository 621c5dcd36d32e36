package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// Service defines inventory stock operations.
type Service interface {
	AddItems(ctx context.Context, input AddItemsInput) ([]models.InventoryItem, error)
	Reserve(ctx context.Context, tx *gorm.DB, listingID, orderItemID uuid.UUID) (*models.InventoryItem, error)
	Release(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) error
	MarkDelivered(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (*models.InventoryItem, error)
	DisableItem(ctx context.Context, id uuid.UUID) error
	AvailableCount(ctx context.Context, listingID uuid.UUID) (int64, error)
}

// AddItemsInput describes new deliverable units for a listing.
type AddItemsInput struct {
	ListingID uuid.UUID
	Payloads  []string
}

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires an inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) AddItems(ctx context.Context, input AddItemsInput) ([]models.InventoryItem, error) {
	if input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	if len(input.Payloads) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one payload is required")
	}

	items := make([]models.InventoryItem, 0, len(input.Payloads))
	for _, payload := range input.Payloads {
		if strings.TrimSpace(payload) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload must not be empty")
		}
		items = append(items, models.InventoryItem{
			ID:        uuid.New(),
			ListingID: input.ListingID,
			Status:    enums.InventoryStatusAvailable,
			Payload:   payload,
		})
	}

	if err := s.repo.Create(ctx, items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create inventory items")
	}
	return items, nil
}

// Reserve allocates exactly one free unit to the order item. Calling it again
// for the same order item returns the unit reserved the first time; the unique
// constraint on order_item_id backstops races the lookup cannot see.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, listingID, orderItemID uuid.UUID) (*models.InventoryItem, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if listingID == uuid.Nil || orderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id and order item id are required")
	}
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByOrderItemID(ctx, orderItemID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up reservation")
	}

	listing, err := repo.FindListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up listing")
	}
	if listing.DeliveryType != enums.DeliveryTypeAuto {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing is not auto-delivered")
	}

	item, err := repo.LockOneAvailable(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeResourceExhausted, "no inventory available").
				WithDetails(map[string]any{"listing_id": listingID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock inventory item")
	}

	now := time.Now()
	item.Status = enums.InventoryStatusReserved
	item.OrderItemID = &orderItemID
	item.ReservedAt = &now
	if err := repo.Update(ctx, item); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_inventory_items_order_item_id") {
			return repo.FindByOrderItemID(ctx, orderItemID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve inventory item")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"listing_id":    listingID.String(),
		"order_item_id": orderItemID.String(),
		"inventory_id":  item.ID.String(),
	}), "inventory reserved")
	return item, nil
}

// Release frees a reserved unit back to the pool. Delivered units stay put;
// clawing those back is a manual operation.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if orderItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order item id is required")
	}
	repo := s.repo.WithTx(tx)

	item, err := repo.FindByOrderItemID(ctx, orderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up reservation")
	}
	if item.Status != enums.InventoryStatusReserved {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("inventory item is %s, not reserved", item.Status))
	}

	item.Status = enums.InventoryStatusAvailable
	item.OrderItemID = nil
	item.ReservedAt = nil
	if err := repo.Update(ctx, item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release inventory item")
	}
	return nil
}

func (s *service) MarkDelivered(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (*models.InventoryItem, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if orderItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id is required")
	}
	repo := s.repo.WithTx(tx)

	item, err := repo.FindByOrderItemID(ctx, orderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no reservation for order item")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up reservation")
	}
	if item.Status == enums.InventoryStatusDelivered {
		return item, nil
	}
	if item.Status != enums.InventoryStatusReserved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("inventory item is %s, not reserved", item.Status))
	}

	now := time.Now()
	item.Status = enums.InventoryStatusDelivered
	item.DeliveredAt = &now
	if err := repo.Update(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark inventory delivered")
	}
	return item, nil
}

func (s *service) DisableItem(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "inventory item id is required")
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up inventory item")
	}
	if item.Status != enums.InventoryStatusAvailable {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot disable %s inventory item", item.Status))
	}

	item.Status = enums.InventoryStatusDisabled
	if err := s.repo.Update(ctx, item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "disable inventory item")
	}
	return nil
}

func (s *service) AvailableCount(ctx context.Context, listingID uuid.UUID) (int64, error) {
	if listingID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	return s.repo.CountByStatus(ctx, listingID, enums.InventoryStatusAvailable)
}
