package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox/payloads"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns every order status change. Nothing else writes order.status.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error)

	MarkAwaitingPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ApplyPaymentConfirmation(ctx context.Context, tx *gorm.DB, input PaymentConfirmationInput) (bool, error)
	Cancel(ctx context.Context, input CancelInput) error
	Expire(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkInDelivery(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	MarkDelivered(ctx context.Context, input DeliverInput) error
	MarkItemDelivered(ctx context.Context, tx *gorm.DB, orderID, itemID uuid.UUID) error
	ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID, meta ActorMeta) error
	AutoComplete(ctx context.Context, orderID uuid.UUID) (bool, error)
	MarkDisputed(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID, reason string) error
	CompleteFromDispute(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID, reason string) error
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error
}

// ActorMeta carries request attribution for the audit trail.
type ActorMeta struct {
	IP        string
	UserAgent string
}

// PaymentConfirmationInput identifies the confirmed charge being applied.
type PaymentConfirmationInput struct {
	OrderID   uuid.UUID
	PaymentID uuid.UUID
	PaidAt    time.Time
}

// CancelInput describes a user or system cancellation of an unpaid order.
type CancelInput struct {
	OrderID uuid.UUID
	ActorID *uuid.UUID
	Reason  string
	Meta    ActorMeta
}

// DeliverInput marks the whole order delivered.
type DeliverInput struct {
	OrderID uuid.UUID
	ActorID *uuid.UUID
	Auto    bool
	Meta    ActorMeta
}

type ServiceParams struct {
	Repo   Repository
	DB     TxRunner
	Outbox *outbox.Service
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	db     TxRunner
	outbox *outbox.Service
	logg   *logger.Logger
}

// NewService wires the order state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		db:     params.DB,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find order")
	}
	return order, nil
}

func (s *service) GetWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindWithItems(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find order")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderEvent, error) {
	events, err := s.repo.ListEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list order events")
	}
	return events, nil
}

type transitionMeta struct {
	ActorID   *uuid.UUID
	Reason    string
	Source    enums.EventSource
	IP        string
	UserAgent string
}

// transition applies one lifecycle step and appends the audit event in the
// same transaction. Callers hold the row lock.
func (s *service) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, meta transitionMeta) error {
	if !CanTransition(order.Status, to) {
		return transitionError(order.Status, to)
	}
	return s.writeTransition(ctx, tx, order, to, meta)
}

// resolveTransition applies a dispute-resolution outcome. Only the dispute
// service reaches these edges.
func (s *service) resolveTransition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, meta transitionMeta) error {
	if !CanResolve(order.Status, to) {
		return transitionError(order.Status, to)
	}
	return s.writeTransition(ctx, tx, order, to, meta)
}

func (s *service) writeTransition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, meta transitionMeta) error {
	from := order.Status
	repo := s.repo.WithTx(tx)
	now := time.Now()
	order.Status = to
	switch to {
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &now
	case enums.OrderStatusCompleted:
		order.CompletedAt = &now
	}
	if err := repo.Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save order")
	}

	event := &models.OrderEvent{
		ID:         uuid.New(),
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    meta.ActorID,
		Reason:     meta.Reason,
		Source:     meta.Source,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if event.Source == "" {
		event.Source = enums.EventSourceSystem
	}
	if err := repo.RecordEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record order event")
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	s.logg.Info(logCtx, "order transitioned")
	return nil
}

func (s *service) lockOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
	}
	return order, nil
}

func (s *service) MarkAwaitingPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusAwaitingPayment {
		return nil
	}
	return s.transition(ctx, tx, order, enums.OrderStatusAwaitingPayment, transitionMeta{
		Reason: "payment window opened",
		Source: enums.EventSourceSystem,
	})
}

// ApplyPaymentConfirmation moves the order to paid and straight into
// in_delivery. A confirmation that arrives twice, or after the order already
// advanced, reports applied=false without error so webhook retries stay quiet.
func (s *service) ApplyPaymentConfirmation(ctx context.Context, tx *gorm.DB, input PaymentConfirmationInput) (bool, error) {
	order, err := s.lockOrder(ctx, tx, input.OrderID)
	if err != nil {
		return false, err
	}

	if order.Status != enums.OrderStatusCreated && order.Status != enums.OrderStatusAwaitingPayment {
		return false, nil
	}
	// A confirmation against an order still in created means the
	// awaiting_payment hop never landed; take it now so the trail is whole.
	if order.Status == enums.OrderStatusCreated {
		if err := s.transition(ctx, tx, order, enums.OrderStatusAwaitingPayment, transitionMeta{
			Reason: "payment charge created",
			Source: enums.EventSourceSystem,
		}); err != nil {
			return false, err
		}
	}

	if err := s.transition(ctx, tx, order, enums.OrderStatusPaid, transitionMeta{
		Reason: "payment confirmed",
		Source: enums.EventSourceSystem,
	}); err != nil {
		return false, err
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			PaymentID:   input.PaymentID,
			AmountCents: order.TotalAmountCents,
			PaidAt:      paidAt,
		},
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order paid event")
	}

	// Fulfillment begins the moment payment lands. The hand-off of goods is
	// still gated per item, but the order itself never lingers in paid.
	if err := s.transition(ctx, tx, order, enums.OrderStatusInDelivery, transitionMeta{
		Reason: "fulfillment started",
		Source: enums.EventSourceSystem,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if input.ActorID != nil && *input.ActorID != order.BuyerID && *input.ActorID != order.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only order participants can cancel")
		}

		meta := transitionMeta{
			ActorID:   input.ActorID,
			Reason:    input.Reason,
			Source:    enums.EventSourceUser,
			IP:        input.Meta.IP,
			UserAgent: input.Meta.UserAgent,
		}
		if input.ActorID == nil {
			meta.Source = enums.EventSourceSystem
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusCancelled, meta); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				SellerID:    order.SellerID,
				Reason:      input.Reason,
				CancelledAt: time.Now(),
			},
		})
	})
}

// Expire cancels an order whose payment window lapsed. Returns false when the
// order already left the cancellable states, which is the normal case when a
// payment landed just before the deadline.
func (s *service) Expire(ctx context.Context, orderID uuid.UUID) (bool, error) {
	expired := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCreated && order.Status != enums.OrderStatusAwaitingPayment {
			return nil
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusCancelled, transitionMeta{
			Reason: "payment window expired",
			Source: enums.EventSourceSystem,
		}); err != nil {
			return err
		}
		expired = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderExpiredEvent{
				OrderID:   order.ID,
				BuyerID:   order.BuyerID,
				SellerID:  order.SellerID,
				ExpiredAt: time.Now(),
			},
		})
	})
	return expired, err
}

func (s *service) MarkInDelivery(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status == enums.OrderStatusInDelivery {
		return nil
	}
	return s.transition(ctx, tx, order, enums.OrderStatusInDelivery, transitionMeta{
		Reason: "fulfillment started",
		Source: enums.EventSourceSystem,
	})
}

func (s *service) MarkDelivered(ctx context.Context, input DeliverInput) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if input.ActorID != nil && *input.ActorID != order.SellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can mark delivery")
		}

		source := enums.EventSourceUser
		reason := "seller marked delivered"
		if input.Auto {
			source = enums.EventSourceSystem
			reason = "auto delivery completed"
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusDelivered, transitionMeta{
			ActorID:   input.ActorID,
			Reason:    reason,
			Source:    source,
			IP:        input.Meta.IP,
			UserAgent: input.Meta.UserAgent,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderDeliveredEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				SellerID:    order.SellerID,
				Auto:        input.Auto,
				DeliveredAt: time.Now(),
			},
		})
	})
}

func (s *service) MarkItemDelivered(ctx context.Context, tx *gorm.DB, orderID, itemID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := s.repo.WithTx(tx).MarkItemDelivered(ctx, itemID, time.Now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark item delivered")
	}
	return nil
}

func (s *service) ConfirmReceipt(ctx context.Context, orderID, buyerID uuid.UUID, meta ActorMeta) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm receipt")
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusCompleted, transitionMeta{
			ActorID:   &buyerID,
			Reason:    "buyer confirmed receipt",
			Source:    enums.EventSourceUser,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		}); err != nil {
			return err
		}
		return s.emitCompleted(ctx, tx, order)
	})
}

// AutoComplete closes a delivered order the buyer never confirmed. Returns
// false when the order moved on first (dispute, refund, manual confirm).
func (s *service) AutoComplete(ctx context.Context, orderID uuid.UUID) (bool, error) {
	completed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDelivered {
			return nil
		}
		if err := s.transition(ctx, tx, order, enums.OrderStatusCompleted, transitionMeta{
			Reason: "auto completed after confirmation window",
			Source: enums.EventSourceSystem,
		}); err != nil {
			return err
		}
		completed = true
		return s.emitCompleted(ctx, tx, order)
	})
	return completed, err
}

func (s *service) emitCompleted(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderCompletedEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			CompletedAt: time.Now(),
		},
	})
}

func (s *service) MarkDisputed(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID, reason string) error {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	return s.transition(ctx, tx, order, enums.OrderStatusDisputed, transitionMeta{
		ActorID: &actorID,
		Reason:  reason,
		Source:  enums.EventSourceUser,
	})
}

// CompleteFromDispute resumes the happy path after a dispute resolves in the
// seller's favor.
func (s *service) CompleteFromDispute(ctx context.Context, tx *gorm.DB, orderID, actorID uuid.UUID, reason string) error {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusDisputed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not disputed")
	}
	if err := s.resolveTransition(ctx, tx, order, enums.OrderStatusCompleted, transitionMeta{
		ActorID: &actorID,
		Reason:  reason,
		Source:  enums.EventSourceUser,
	}); err != nil {
		return err
	}
	return s.emitCompleted(ctx, tx, order)
}

func (s *service) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if err := s.resolveTransition(ctx, tx, order, enums.OrderStatusRefunded, transitionMeta{
		Reason: reason,
		Source: enums.EventSourceSystem,
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderRefundedEvent{
			OrderID:     order.ID,
			BuyerID:     order.BuyerID,
			SellerID:    order.SellerID,
			AmountCents: order.TotalAmountCents,
			RefundedAt:  time.Now(),
		},
	})
}
