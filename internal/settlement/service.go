package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/internal/users"
	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox"
	"github.com/ggmarket/ggmarket-backend/pkg/outbox/payloads"
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
)

// Gateway is the slice of the Pix client settlement needs.
type Gateway interface {
	GetCharge(ctx context.Context, txid string) (*pix.Charge, error)
	RefundCharge(ctx context.Context, params pix.RefundParams) (*pix.Refund, error)
	CashOut(ctx context.Context, params pix.CashOutParams) (*pix.CashOut, error)
}

// Service owns escrow accounting. Money enters HELD when a payment confirms,
// and leaves through Release (seller's favor) or Refund (buyer's favor).
type Service interface {
	CreateHeldEntry(ctx context.Context, tx *gorm.DB, input HeldEntryInput) (bool, error)
	Release(ctx context.Context, input ReleaseInput) (ReleaseOutcome, error)
	Refund(ctx context.Context, input RefundInput) (RefundOutcome, error)
	LedgerForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	Balances(ctx context.Context, userID uuid.UUID) (held, available int64, err error)
	FeeCents(amountCents int64) int64
}

// HeldEntryInput describes the escrow credit written when a payment confirms.
type HeldEntryInput struct {
	OrderID     uuid.UUID
	PaymentID   uuid.UUID
	SellerID    uuid.UUID
	AmountCents int64
	Currency    string
}

// ReleaseInput identifies the completed order whose escrow should move to the
// seller. ActorID is set for manual admin releases.
type ReleaseInput struct {
	OrderID uuid.UUID
	ActorID *uuid.UUID
	Reason  string
}

// ReleaseOutcome reports what the release did.
type ReleaseOutcome struct {
	Released        bool
	AlreadyReleased bool
	GrossCents      int64
	FeeCents        int64
	NetCents        int64
	PayoutID        uuid.UUID
}

// RefundInput identifies the order whose funds go back to the buyer.
type RefundInput struct {
	OrderID uuid.UUID
	ActorID *uuid.UUID
	Reason  string
}

// RefundOutcome distinguishes a clean refund from the manual chargeback path
// taken when the money already left escrow.
type RefundOutcome struct {
	Refunded         bool
	ChargebackOpened bool
	TicketID         uuid.UUID
	AmountCents      int64
}

type ServiceParams struct {
	Repo      Repository
	DB        orders.TxRunner
	OrderRepo orders.Repository
	Orders    orders.Service
	Payments  payments.Service
	Users     users.Repository
	Gateway   Gateway
	Outbox    *outbox.Service
	Config    config.SettlementConfig
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	db        orders.TxRunner
	orderRepo orders.Repository
	orders    orders.Service
	payments  payments.Service
	users     users.Repository
	gateway   Gateway
	outbox    *outbox.Service
	cfg       config.SettlementConfig
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
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
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("pix gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		db:        params.DB,
		orderRepo: params.OrderRepo,
		orders:    params.Orders,
		payments:  params.Payments,
		users:     params.Users,
		gateway:   params.Gateway,
		outbox:    params.Outbox,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

// FeeCents computes the marketplace fee with round-half-up integer math,
// clamped to [0, amount].
func (s *service) FeeCents(amountCents int64) int64 {
	if amountCents <= 0 || s.cfg.FeeBps <= 0 {
		return 0
	}
	fee := (amountCents*int64(s.cfg.FeeBps) + 5000) / 10000
	if fee > amountCents {
		return amountCents
	}
	return fee
}

// CreateHeldEntry writes the escrow credit for a confirmed payment. Reports
// applied=false when the entry already exists so webhook retries stay quiet.
func (s *service) CreateHeldEntry(ctx context.Context, tx *gorm.DB, input HeldEntryInput) (bool, error) {
	if input.OrderID == uuid.Nil || input.SellerID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order and seller ids required")
	}
	if input.AmountCents <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	exists, err := repo.HasEntry(ctx, input.OrderID, enums.LedgerEntryTypeCredit, enums.LedgerEntryStateHeld, enums.LedgerSourceOrderPayment)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check held entry")
	}
	if exists {
		return false, nil
	}

	currency := input.Currency
	if currency == "" {
		currency = "BRL"
	}
	orderID := input.OrderID
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		Type:        enums.LedgerEntryTypeCredit,
		State:       enums.LedgerEntryStateHeld,
		Source:      enums.LedgerSourceOrderPayment,
		AmountCents: input.AmountCents,
		Currency:    currency,
		UserID:      input.SellerID,
		OrderID:     &orderID,
	}
	if input.PaymentID != uuid.Nil {
		paymentID := input.PaymentID
		entry.PaymentID = &paymentID
	}
	if err := repo.InsertEntry(ctx, entry); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert held entry")
	}
	return true, nil
}

// Release moves a completed order's escrow to the seller in three phases:
// an eligibility check that writes the payout intent, the external cash-out,
// and an idempotent recording transaction. A crash between phases is repaired
// by calling Release again.
func (s *service) Release(ctx context.Context, input ReleaseInput) (ReleaseOutcome, error) {
	var outcome ReleaseOutcome
	if input.OrderID == uuid.Nil {
		return outcome, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var (
		payout *models.Payout
		order  *models.Order
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var err error
		order, err = s.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}
		if order.Status != enums.OrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not completed")
		}

		disputed, err := repo.HasOpenDispute(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check disputes")
		}
		if disputed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has an open dispute")
		}

		confirmed, err := repo.CountConfirmedPayments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count confirmed payments")
		}
		if confirmed == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no confirmed payment")
		}
		if confirmed > 1 {
			return pkgerrors.New(pkgerrors.CodeManualIntervention, "order has multiple confirmed payments")
		}

		held, err := repo.FindHeldCredit(ctx, order.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no escrow funds")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find held entry")
		}

		gross := held.AmountCents
		fee := s.FeeCents(gross)
		outcome.GrossCents = gross
		outcome.FeeCents = fee
		outcome.NetCents = gross - fee

		payout, err = repo.FindPayoutByOrderID(ctx, order.ID)
		if err == nil {
			outcome.PayoutID = payout.ID
			if payout.Status == enums.PayoutStatusRecorded {
				outcome.AlreadyReleased = true
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payout")
		}

		seller, err := s.users.WithTx(tx).FindByID(ctx, order.SellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
		}
		if seller.PayoutBlocked {
			return pkgerrors.New(pkgerrors.CodeManualIntervention, "seller payouts are blocked")
		}

		payout = &models.Payout{
			ID:             uuid.New(),
			OrderID:        order.ID,
			SellerID:       order.SellerID,
			AmountCents:    outcome.NetCents,
			FeeCents:       fee,
			Currency:       order.Currency,
			IdempotencyKey: pix.NewIdempotencyKey("payout"),
			Status:         enums.PayoutStatusPending,
		}
		if err := repo.CreatePayout(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout intent")
		}
		outcome.PayoutID = payout.ID
		return nil
	})
	if err != nil {
		return outcome, err
	}
	if outcome.AlreadyReleased {
		return outcome, nil
	}

	needsSend := payout.Status == enums.PayoutStatusPending || payout.Status == enums.PayoutStatusFailed
	if s.cfg.CashOutEnabled() && needsSend {
		if err := s.sendPayout(ctx, order, payout); err != nil {
			return outcome, err
		}
	}

	released, err := s.recordRelease(ctx, order, payout, outcome, input)
	if err != nil {
		return outcome, err
	}
	outcome.Released = released
	outcome.AlreadyReleased = !released
	return outcome, nil
}

func (s *service) sendPayout(ctx context.Context, order *models.Order, payout *models.Payout) error {
	seller, err := s.users.FindByID(ctx, order.SellerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
	}
	if seller.PixKey == nil || strings.TrimSpace(*seller.PixKey) == "" {
		msg := "seller has no pix key"
		_ = s.repo.UpdatePayout(ctx, payout.ID, map[string]any{
			"status":     enums.PayoutStatusFailed,
			"last_error": msg,
		})
		return pkgerrors.New(pkgerrors.CodeManualIntervention, msg)
	}

	cashOut, err := s.gateway.CashOut(ctx, pix.CashOutParams{
		IdempotencyKey: payout.IdempotencyKey,
		DestinationKey: *seller.PixKey,
		AmountCents:    payout.AmountCents,
		Description:    fmt.Sprintf("order %s settlement", order.ID),
	})
	if err != nil {
		errMsg := err.Error()
		_ = s.repo.UpdatePayout(ctx, payout.ID, map[string]any{
			"status":     enums.PayoutStatusFailed,
			"last_error": errMsg,
		})
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cash out payout")
	}

	now := time.Now()
	payout.Status = enums.PayoutStatusSent
	payout.SentAt = &now
	payout.ProviderRef = &cashOut.EndToEndID
	return s.repo.UpdatePayout(ctx, payout.ID, map[string]any{
		"status":       enums.PayoutStatusSent,
		"sent_at":      now,
		"provider_ref": cashOut.EndToEndID,
	})
}

// recordRelease is the idempotent second transaction. The HELD debit is the
// recording marker: once present, the release is already on the books.
func (s *service) recordRelease(ctx context.Context, order *models.Order, payout *models.Payout, outcome ReleaseOutcome, input ReleaseInput) (bool, error) {
	recorded := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		done, err := repo.HasEntry(ctx, order.ID, enums.LedgerEntryTypeDebit, enums.LedgerEntryStateHeld, enums.LedgerSourceOrderPayment)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check release marker")
		}
		if done {
			return nil
		}

		orderID := order.ID
		entries := []*models.LedgerEntry{
			{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeDebit,
				State:       enums.LedgerEntryStateHeld,
				Source:      enums.LedgerSourceOrderPayment,
				AmountCents: outcome.GrossCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
			},
			{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeCredit,
				State:       enums.LedgerEntryStateAvailable,
				Source:      enums.LedgerSourceOrderPayment,
				AmountCents: outcome.GrossCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
			},
		}
		if outcome.FeeCents > 0 {
			entries = append(entries, &models.LedgerEntry{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeDebit,
				State:       enums.LedgerEntryStateAvailable,
				Source:      enums.LedgerSourceFee,
				AmountCents: outcome.FeeCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
			})
		}
		if s.cfg.CashOutEnabled() {
			entries = append(entries, &models.LedgerEntry{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeDebit,
				State:       enums.LedgerEntryStateAvailable,
				Source:      enums.LedgerSourcePayout,
				AmountCents: outcome.NetCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
			})
		}
		for _, entry := range entries {
			if err := repo.InsertEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert release entry")
			}
		}

		now := time.Now()
		if err := repo.UpdatePayout(ctx, payout.ID, map[string]any{
			"status":      enums.PayoutStatusRecorded,
			"recorded_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize payout")
		}

		event := &models.OrderEvent{
			ID:         uuid.New(),
			OrderID:    order.ID,
			FromStatus: enums.OrderStatusCompleted,
			ToStatus:   enums.OrderStatusCompleted,
			ActorID:    input.ActorID,
			Reason:     "settlement released",
			Source:     enums.EventSourceSystem,
		}
		if err := s.orderRepo.WithTx(tx).RecordEvent(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record order event")
		}

		if input.ActorID != nil {
			if err := s.auditRelease(ctx, repo, *input.ActorID, order.ID, input.Reason, outcome); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementReleased,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.SettlementReleasedEvent{
				OrderID:    order.ID,
				SellerID:   order.SellerID,
				GrossCents: outcome.GrossCents,
				FeeCents:   outcome.FeeCents,
				NetCents:   outcome.NetCents,
				ReleasedAt: now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement event")
		}
		if s.cfg.CashOutEnabled() {
			providerRef := ""
			if payout.ProviderRef != nil {
				providerRef = *payout.ProviderRef
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutSent,
				AggregateType: enums.AggregatePayout,
				AggregateID:   payout.ID,
				Version:       1,
				Data: payloads.PayoutSentEvent{
					PayoutID:    payout.ID,
					OrderID:     order.ID,
					SellerID:    order.SellerID,
					AmountCents: payout.AmountCents,
					ProviderRef: providerRef,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payout event")
			}
		}

		recorded = true
		return nil
	})
	return recorded, err
}

func (s *service) auditRelease(ctx context.Context, repo Repository, actorID, orderID uuid.UUID, reason string, outcome ReleaseOutcome) error {
	metadata, err := json.Marshal(map[string]any{
		"reason":      reason,
		"gross_cents": outcome.GrossCents,
		"fee_cents":   outcome.FeeCents,
		"net_cents":   outcome.NetCents,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit metadata")
	}
	log := &models.AuditLog{
		ID:       uuid.New(),
		ActorID:  actorID,
		Action:   "settlement.release",
		TargetID: orderID,
		Metadata: metadata,
	}
	if err := repo.InsertAuditLog(ctx, log); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert audit log")
	}
	return nil
}

// Refund returns escrow to the buyer. When the funds already left escrow the
// money cannot be pulled back automatically, so the refund becomes a manual
// chargeback: seller payouts freeze and support gets a ticket.
func (s *service) Refund(ctx context.Context, input RefundInput) (RefundOutcome, error) {
	var outcome RefundOutcome
	if input.OrderID == uuid.Nil {
		return outcome, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return outcome, err
	}
	// Money only leaves escrow through a dispute ruling; the order lifecycle
	// has no other road to refunded.
	if order.Status != enums.OrderStatusDisputed {
		return outcome, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not under dispute")
	}

	held, err := s.repo.FindHeldCredit(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return outcome, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no escrow funds")
		}
		return outcome, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find held entry")
	}
	outcome.AmountCents = held.AmountCents

	released, err := s.repo.HasEntry(ctx, order.ID, enums.LedgerEntryTypeDebit, enums.LedgerEntryStateHeld, enums.LedgerSourceOrderPayment)
	if err != nil {
		return outcome, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check release marker")
	}
	if released {
		return s.openChargeback(ctx, order, held, input)
	}
	return s.refundEscrow(ctx, order, held, input)
}

func (s *service) refundEscrow(ctx context.Context, order *models.Order, held *models.LedgerEntry, input RefundInput) (RefundOutcome, error) {
	outcome := RefundOutcome{AmountCents: held.AmountCents}

	payment, err := s.confirmedPayment(ctx, order.ID)
	if err != nil {
		return outcome, err
	}
	charge, err := s.gateway.GetCharge(ctx, payment.TxID)
	if err != nil {
		return outcome, err
	}
	if charge.EndToEndID == "" {
		return outcome, pkgerrors.New(pkgerrors.CodeDependency, "charge has no end-to-end id yet")
	}
	// Deterministic devolution id keeps provider-side retries idempotent.
	refundID := strings.ReplaceAll(order.ID.String(), "-", "")
	if _, err := s.gateway.RefundCharge(ctx, pix.RefundParams{
		EndToEndID:  charge.EndToEndID,
		RefundID:    refundID,
		AmountCents: held.AmountCents,
	}); err != nil {
		return outcome, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reversed, err := repo.HasEntry(ctx, order.ID, enums.LedgerEntryTypeDebit, enums.LedgerEntryStateHeld, enums.LedgerSourceRefund)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check refund marker")
		}
		if reversed {
			return nil
		}

		if err := s.payments.MarkRefunded(ctx, tx, payment.ID); err != nil {
			return err
		}
		if err := s.orders.MarkRefunded(ctx, tx, order.ID, input.Reason); err != nil {
			return err
		}

		orderID := order.ID
		paymentID := payment.ID
		pair := []*models.LedgerEntry{
			{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeDebit,
				State:       enums.LedgerEntryStateHeld,
				Source:      enums.LedgerSourceRefund,
				AmountCents: held.AmountCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
				PaymentID:   &paymentID,
			},
			{
				ID:          uuid.New(),
				Type:        enums.LedgerEntryTypeCredit,
				State:       enums.LedgerEntryStateReversed,
				Source:      enums.LedgerSourceRefund,
				AmountCents: held.AmountCents,
				Currency:    order.Currency,
				UserID:      order.SellerID,
				OrderID:     &orderID,
				PaymentID:   &paymentID,
			},
		}
		for _, entry := range pair {
			if err := repo.InsertEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert refund entry")
			}
		}

		if input.ActorID != nil {
			metadata, err := json.Marshal(map[string]any{"reason": input.Reason, "amount_cents": held.AmountCents})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit metadata")
			}
			if err := repo.InsertAuditLog(ctx, &models.AuditLog{
				ID:       uuid.New(),
				ActorID:  *input.ActorID,
				Action:   "settlement.refund",
				TargetID: order.ID,
				Metadata: metadata,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert audit log")
			}
		}
		return nil
	})
	if err != nil {
		return outcome, err
	}
	outcome.Refunded = true
	return outcome, nil
}

// openChargeback handles refund-after-release. The seller already has the
// money, so the ledger records the claim, seller payouts freeze and a human
// takes over.
func (s *service) openChargeback(ctx context.Context, order *models.Order, held *models.LedgerEntry, input RefundInput) (RefundOutcome, error) {
	outcome := RefundOutcome{AmountCents: held.AmountCents}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		opened, err := repo.HasEntry(ctx, order.ID, enums.LedgerEntryTypeDebit, enums.LedgerEntryStateReversed, enums.LedgerSourceRefund)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check chargeback marker")
		}
		if opened {
			outcome.ChargebackOpened = true
			return nil
		}

		if err := s.users.WithTx(tx).SetPayoutBlocked(ctx, order.SellerID, true); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "block seller payouts")
		}

		orderID := order.ID
		ticket := &models.SupportTicket{
			ID:      uuid.New(),
			UserID:  order.SellerID,
			OrderID: &orderID,
			Subject: fmt.Sprintf("Chargeback on order %s", order.ID),
			Body:    fmt.Sprintf("Refund requested after settlement release (%d cents). Reason: %s", held.AmountCents, input.Reason),
			Status:  enums.TicketStatusOpen,
		}
		if err := tx.WithContext(ctx).Create(ticket).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create support ticket")
		}
		outcome.TicketID = ticket.ID

		if err := repo.InsertEntry(ctx, &models.LedgerEntry{
			ID:          uuid.New(),
			Type:        enums.LedgerEntryTypeDebit,
			State:       enums.LedgerEntryStateReversed,
			Source:      enums.LedgerSourceRefund,
			AmountCents: held.AmountCents,
			Currency:    order.Currency,
			UserID:      order.SellerID,
			OrderID:     &orderID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert chargeback entry")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChargebackOpened,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.ChargebackOpenedEvent{
				OrderID:     order.ID,
				SellerID:    order.SellerID,
				TicketID:    ticket.ID,
				AmountCents: held.AmountCents,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit chargeback event")
		}

		outcome.ChargebackOpened = true
		return nil
	})
	if err != nil {
		return outcome, err
	}

	s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "refund after release escalated to manual chargeback")
	return outcome, nil
}

func (s *service) confirmedPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	rows, err := s.payments.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Status == enums.PaymentStatusConfirmed {
			return &rows[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no confirmed payment")
}

func (s *service) LedgerForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	rows, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return rows, nil
}

func (s *service) Balances(ctx context.Context, userID uuid.UUID) (int64, int64, error) {
	held, err := s.repo.BalanceByUser(ctx, userID, enums.LedgerEntryStateHeld)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "held balance")
	}
	available, err := s.repo.BalanceByUser(ctx, userID, enums.LedgerEntryStateAvailable)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "available balance")
	}
	return held, available, nil
}
