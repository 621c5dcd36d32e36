package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/inventory"
	"github.com/ggmarket/ggmarket-backend/internal/listings"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox/payloads"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

// JobScheduler is the slice of the scheduling gateway checkout needs.
type JobScheduler interface {
	Schedule(ctx context.Context, queue, jobID string, runAt time.Time) (bool, error)
	Cancel(ctx context.Context, queue, jobID string) (bool, error)
}

// Service orchestrates order creation and the delivery hand-offs around the
// order state machine.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	AutoDeliver(ctx context.Context, orderID uuid.UUID) error
	ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID, meta orders.ActorMeta) error
	MarkDelivered(ctx context.Context, input orders.DeliverInput) error
}

// ItemInput is one line of a new order.
type ItemInput struct {
	ListingID uuid.UUID
	Quantity  int
}

// CreateOrderInput carries the buyer's cart.
type CreateOrderInput struct {
	BuyerID uuid.UUID
	Items   []ItemInput
	Meta    orders.ActorMeta
}

type ServiceParams struct {
	DB        orders.TxRunner
	Orders    orders.Service
	OrderRepo orders.Repository
	Listings  listings.Service
	Inventory inventory.Service
	Outbox    *outbox.Service
	Scheduler JobScheduler
	Config    config.SettlementConfig
	Logger    *logger.Logger
}

type service struct {
	db        orders.TxRunner
	orders    orders.Service
	orderRepo orders.Repository
	listings  listings.Service
	inventory inventory.Service
	outbox    *outbox.Service
	scheduler JobScheduler
	cfg       config.SettlementConfig
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listings service required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.OrderTTL <= 0 {
		params.Config.OrderTTL = 30 * time.Minute
	}
	return &service{
		db:        params.DB,
		orders:    params.Orders,
		orderRepo: params.OrderRepo,
		listings:  params.Listings,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		scheduler: params.Scheduler,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// CreateOrder snapshots the listings into an order and opens the payment
// window. The availability pre-check is advisory; the reservation after
// payment is what actually claims units.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}

	var (
		sellerID   uuid.UUID
		total      int64
		orderItems []models.OrderItem
	)
	for _, item := range input.Items {
		if item.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		listing, err := s.listings.Get(ctx, item.ListingID)
		if err != nil {
			return nil, err
		}
		if !listing.Published {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing is not published")
		}
		if listing.SellerID == input.BuyerID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot buy your own listing")
		}
		if sellerID == uuid.Nil {
			sellerID = listing.SellerID
		} else if sellerID != listing.SellerID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "all items must belong to one seller")
		}
		if listing.DeliveryType == enums.DeliveryTypeAuto {
			if item.Quantity != 1 {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "auto-delivery listings are sold one unit per order")
			}
			available, err := s.inventory.AvailableCount(ctx, listing.ID)
			if err != nil {
				return nil, err
			}
			if available < 1 {
				return nil, pkgerrors.New(pkgerrors.CodeResourceExhausted, "listing is out of stock")
			}
		}

		total += listing.UnitPriceCents * int64(item.Quantity)
		orderItems = append(orderItems, models.OrderItem{
			ID:             uuid.New(),
			ListingID:      listing.ID,
			SellerID:       listing.SellerID,
			Title:          listing.Title,
			UnitPriceCents: listing.UnitPriceCents,
			Quantity:       item.Quantity,
			DeliveryType:   listing.DeliveryType,
		})
	}

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          input.BuyerID,
		SellerID:         sellerID,
		Status:           enums.OrderStatusCreated,
		TotalAmountCents: total,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(s.cfg.OrderTTL),
	}
	for i := range orderItems {
		orderItems[i].OrderID = order.ID
	}
	order.Items = orderItems

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orderRepo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		// The payment window opens inside the same unit of work; an order
		// never commits stranded in created.
		if err := s.orders.MarkAwaitingPayment(ctx, tx, order.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCreatedEvent{
				OrderID:          order.ID,
				BuyerID:          order.BuyerID,
				SellerID:         order.SellerID,
				TotalAmountCents: order.TotalAmountCents,
				ExpiresAt:        order.ExpiresAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusAwaitingPayment

	s.scheduleWithRetry(ctx, scheduler.QueueOrders, scheduler.JobID(scheduler.JobOrderExpire, order.ID.String()), order.ExpiresAt)
	return order, nil
}

// scheduleWithRetry tries twice, then logs loudly. The cron sweep picks up
// orders whose expiry job was lost.
func (s *service) scheduleWithRetry(ctx context.Context, queue, jobID string, runAt time.Time) {
	_, err := s.scheduler.Schedule(ctx, queue, jobID, runAt)
	if err == nil {
		return
	}
	if _, err = s.scheduler.Schedule(ctx, queue, jobID, runAt); err == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"queue": queue, "job_id": jobID})
	s.logg.Error(logCtx, "failed to schedule job", err)
}

// AutoDeliver hands reserved inventory payloads to the buyer for the auto
// lines of a paid order. Orders whose lines are all auto go straight to
// delivered; orders carrying manual lines stay in delivery until the seller
// hands them off. Safe to retry.
func (s *service) AutoDeliver(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.GetWithItems(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusDelivered || order.Status == enums.OrderStatusCompleted {
		return nil
	}
	if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusInDelivery {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for delivery")
	}

	allAuto := true
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.MarkInDelivery(ctx, tx, order.ID); err != nil {
			return err
		}
		for _, item := range order.Items {
			if item.DeliveryType != enums.DeliveryTypeAuto {
				allAuto = false
				continue
			}
			if _, err := s.inventory.Reserve(ctx, tx, item.ListingID, item.ID); err != nil {
				return err
			}
			if _, err := s.inventory.MarkDelivered(ctx, tx, item.ID); err != nil {
				return err
			}
			if err := s.orders.MarkItemDelivered(ctx, tx, order.ID, item.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !allAuto {
		return nil
	}

	if err := s.orders.MarkDelivered(ctx, orders.DeliverInput{OrderID: order.ID, Auto: true}); err != nil {
		return err
	}
	s.armAutoComplete(ctx, order.ID)
	return nil
}

// MarkDelivered is the seller's manual hand-off. It arms the auto-complete
// timer once the order reaches delivered.
func (s *service) MarkDelivered(ctx context.Context, input orders.DeliverInput) error {
	if err := s.orders.MarkDelivered(ctx, input); err != nil {
		return err
	}
	s.armAutoComplete(ctx, input.OrderID)
	return nil
}

func (s *service) armAutoComplete(ctx context.Context, orderID uuid.UUID) {
	runAt := time.Now().Add(s.cfg.AutoCompleteDelay)
	s.scheduleWithRetry(ctx, scheduler.QueueOrders, scheduler.JobID(scheduler.JobOrderAutoComplete, orderID.String()), runAt)
}

// ConfirmReceipt closes the order on the buyer's word and queues settlement.
// The auto-complete cancel is best-effort; the job handler no-ops anyway.
func (s *service) ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID, meta orders.ActorMeta) error {
	if err := s.orders.ConfirmReceipt(ctx, orderID, buyerID, meta); err != nil {
		return err
	}
	if _, err := s.scheduler.Cancel(ctx, scheduler.QueueOrders, scheduler.JobID(scheduler.JobOrderAutoComplete, orderID.String())); err != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "failed to cancel auto-complete job")
	}
	s.scheduleWithRetry(ctx, scheduler.QueueSettlement, scheduler.JobID(scheduler.JobSettlementRelease, orderID.String()), time.Now())
	return nil
}
