package pixwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/checkout"
	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	dbpkg "github.com/ggmarket/ggmarket-backend/pkg/db"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/notify"
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

// Service splits webhook handling in two: Ingest persists and dedups the raw
// notification on the request path, Process applies it asynchronously. The
// provider gets a fast 200 regardless of how long confirmation takes.
type Service interface {
	Ingest(ctx context.Context, raw json.RawMessage) (IngestResult, error)
	Process(ctx context.Context, eventID uuid.UUID) error
}

// IngestResult reports what happened to an incoming notification.
type IngestResult struct {
	EventID   uuid.UUID
	Duplicate bool
	Enqueued  bool
}

type pixNotification struct {
	EndToEndID string `json:"endToEndId"`
	TxID       string `json:"txid"`
	Amount     string `json:"valor"`
	Timestamp  string `json:"horario"`
}

type pixPayload struct {
	Pix []pixNotification `json:"pix"`
}

type ServiceParams struct {
	Repo       Repository
	DB         orders.TxRunner
	OrderRepo  orders.Repository
	Orders     orders.Service
	Payments   payments.Service
	Settlement settlement.Service
	Checkout   checkout.Service
	Scheduler  checkout.JobScheduler
	Notify     *notify.Service
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	db         orders.TxRunner
	orderRepo  orders.Repository
	orders     orders.Service
	payments   payments.Service
	settlement settlement.Service
	checkout   checkout.Service
	scheduler  checkout.JobScheduler
	notify     *notify.Service
	logg       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("job scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		db:         params.DB,
		orderRepo:  params.OrderRepo,
		orders:     params.Orders,
		payments:   params.Payments,
		settlement: params.Settlement,
		checkout:   params.Checkout,
		scheduler:  params.Scheduler,
		notify:     params.Notify,
		logg:       params.Logger,
	}, nil
}

// Ingest stores the notification and enqueues processing. The unique
// (provider, event_key) constraint is the dedup authority; a second delivery
// of the same payload returns the original event id, re-enqueueing only when
// the stored event never got processed.
func (s *service) Ingest(ctx context.Context, raw json.RawMessage) (IngestResult, error) {
	var result IngestResult
	if len(raw) == 0 {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "empty webhook payload")
	}
	eventKey, err := EventKey(raw)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}

	event := &models.WebhookEvent{
		ID:       uuid.New(),
		Provider: providerPix,
		EventKey: eventKey,
		Payload:  raw,
	}
	if err := s.repo.Insert(ctx, event); err != nil {
		if !dbpkg.IsUniqueViolation(err, "ux_webhook_events_provider_key") {
			return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store webhook event")
		}
		existing, findErr := s.repo.FindByEventKey(ctx, eventKey)
		if findErr != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load duplicate webhook event")
		}
		result.EventID = existing.ID
		result.Duplicate = true
		// A duplicate of an event that never got processed means the first
		// enqueue was lost; the deterministic job id makes re-scheduling safe.
		if existing.ProcessedAt == nil {
			jobID := scheduler.JobID(scheduler.JobWebhookProcess, existing.ID.String())
			enqueued, schedErr := s.scheduler.Schedule(ctx, scheduler.QueueWebhooks, jobID, time.Now())
			if schedErr != nil {
				s.logg.Error(s.logg.WithFields(ctx, map[string]any{"event_id": existing.ID}), "re-enqueue duplicate webhook event", schedErr)
			} else {
				result.Enqueued = enqueued
			}
		}
		return result, nil
	}
	result.EventID = event.ID

	jobID := scheduler.JobID(scheduler.JobWebhookProcess, event.ID.String())
	enqueued, err := s.scheduler.Schedule(ctx, scheduler.QueueWebhooks, jobID, time.Now())
	if err != nil {
		// The event row is durable; the unprocessed-webhook sweep picks it up.
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{"event_id": event.ID}), "enqueue webhook processing", err)
		return result, nil
	}
	result.Enqueued = enqueued
	return result, nil
}

// Process applies a stored notification: confirm the payment, move the order
// to paid and put the funds on hold, all in one transaction. Reprocessing a
// processed event is a no-op.
func (s *service) Process(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}

	var confirmedOrders []uuid.UUID
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		event, err := repo.FindByIDForUpdate(ctx, eventID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load webhook event")
		}
		if event.ProcessedAt != nil {
			return nil
		}

		var payload pixPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
		}

		var lastPaymentID *uuid.UUID
		for _, notification := range payload.Pix {
			paymentID, orderID, err := s.applyNotification(ctx, tx, notification)
			if err != nil {
				return err
			}
			if paymentID != nil {
				lastPaymentID = paymentID
			}
			if orderID != nil {
				confirmedOrders = append(confirmedOrders, *orderID)
			}
		}

		return repo.MarkProcessed(ctx, event.ID, lastPaymentID, time.Now())
	})
	if err != nil {
		return err
	}

	for _, orderID := range confirmedOrders {
		s.afterConfirmation(ctx, orderID)
	}
	return nil
}

// applyNotification returns the payment it matched and, when the confirmation
// actually transitioned the order, the order id for post-commit follow-up.
func (s *service) applyNotification(ctx context.Context, tx *gorm.DB, notification pixNotification) (*uuid.UUID, *uuid.UUID, error) {
	if notification.TxID == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "notification missing txid")
	}

	payment, err := s.payments.FindByTxID(ctx, tx, notification.TxID)
	if err != nil {
		return nil, nil, err
	}

	if notification.Amount != "" {
		cents, err := pix.AmountToCents(notification.Amount)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse notification amount")
		}
		if cents != payment.AmountCents {
			return nil, nil, pkgerrors.New(pkgerrors.CodeManualIntervention,
				fmt.Sprintf("notification amount %d does not match charge %d", cents, payment.AmountCents))
		}
	}

	confirmedAt := time.Now()
	if notification.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, notification.Timestamp); err == nil {
			confirmedAt = parsed
		}
	}

	applied, err := s.payments.MarkConfirmed(ctx, tx, payment.ID, confirmedAt)
	if err != nil {
		return nil, nil, err
	}
	if !applied {
		return &payment.ID, nil, nil
	}

	transitioned, err := s.orders.ApplyPaymentConfirmation(ctx, tx, orders.PaymentConfirmationInput{
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		PaidAt:    confirmedAt,
	})
	if err != nil {
		return nil, nil, err
	}
	if !transitioned {
		return &payment.ID, nil, nil
	}

	order, err := s.orderRepo.WithTx(tx).FindByID(ctx, payment.OrderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load confirmed order")
	}
	if _, err := s.settlement.CreateHeldEntry(ctx, tx, settlement.HeldEntryInput{
		OrderID:     order.ID,
		PaymentID:   payment.ID,
		SellerID:    order.SellerID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
	}); err != nil {
		return nil, nil, err
	}
	return &payment.ID, &order.ID, nil
}

// afterConfirmation runs best-effort follow-ups outside the processing
// transaction. All are safe to miss: the expire job checks order state and
// digital delivery can be retriggered.
func (s *service) afterConfirmation(ctx context.Context, orderID uuid.UUID) {
	expireJob := scheduler.JobID(scheduler.JobOrderExpire, orderID.String())
	if _, err := s.scheduler.Cancel(ctx, scheduler.QueueOrders, expireJob); err != nil {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "cancel expire job after payment")
	}

	if order, err := s.orderRepo.FindByID(ctx, orderID); err == nil {
		id := orderID
		s.notify.Enqueue(ctx, notify.Message{UserID: order.BuyerID, Kind: notify.KindPaymentConfirmed, OrderID: &id})
		s.notify.Enqueue(ctx, notify.Message{UserID: order.SellerID, Kind: notify.KindPaymentConfirmed, OrderID: &id})
	}

	if err := s.checkout.AutoDeliver(ctx, orderID); err != nil {
		if pkgerrors.As(err).Code() == pkgerrors.CodeStateConflict {
			return
		}
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "auto deliver after payment", err)
	}
}
