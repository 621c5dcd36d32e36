package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
)

// Gateway is the slice of the Pix client the payment service needs.
type Gateway interface {
	CreateCharge(ctx context.Context, params pix.ChargeCreateParams) (*pix.Charge, error)
}

// Service manages the Pix charge attached to an order. An order carries at
// most one pending charge at a time.
type Service interface {
	CreateCharge(ctx context.Context, input CreateChargeInput) (*models.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByTxID(ctx context.Context, tx *gorm.DB, txid string) (*models.Payment, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	MarkConfirmed(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, confirmedAt time.Time) (bool, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) error
	ExpirePendingForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// CreateChargeInput identifies the order and the requesting buyer.
type CreateChargeInput struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
}

type ServiceParams struct {
	Repo    Repository
	DB      orders.TxRunner
	Orders  orders.Service
	Gateway Gateway
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	db      orders.TxRunner
	orders  orders.Service
	gateway Gateway
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("pix gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		db:      params.DB,
		orders:  params.Orders,
		gateway: params.Gateway,
		logg:    params.Logger,
	}, nil
}

// CreateCharge builds the Pix charge for an order. Calling it again while a
// pending charge exists returns that charge instead of minting a second one.
func (s *service) CreateCharge(ctx context.Context, input CreateChargeInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if input.BuyerID != uuid.Nil && order.BuyerID != input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
	}
	if order.Status != enums.OrderStatusCreated && order.Status != enums.OrderStatusAwaitingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer payable")
	}
	remaining := time.Until(order.ExpiresAt)
	if remaining <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment window expired")
	}

	existing, err := s.repo.FindPendingByOrderID(ctx, order.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find pending payment")
	}

	charge, err := s.gateway.CreateCharge(ctx, pix.ChargeCreateParams{
		TxID:        pix.NewTxID(),
		AmountCents: order.TotalAmountCents,
		Expiry:      remaining,
		Description: fmt.Sprintf("order %s", order.ID),
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Status:      enums.PaymentStatusPending,
		TxID:        charge.TxID,
		AmountCents: order.TotalAmountCents,
		Currency:    order.Currency,
		QRCode:      charge.QRCode,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}
		return s.orders.MarkAwaitingPayment(ctx, tx, order.ID)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"payment_id": payment.ID.String(),
		"txid":       payment.TxID,
	})
	s.logg.Info(logCtx, "pix charge created")
	return payment, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment")
	}
	return payment, nil
}

// FindByTxID resolves the charge a provider notification points at. Pass the
// caller's transaction so the lookup shares its unit of work.
func (s *service) FindByTxID(ctx context.Context, tx *gorm.DB, txid string) (*models.Payment, error) {
	payment, err := s.repo.WithTx(tx).FindByTxID(ctx, txid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found for txid")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment by txid")
	}
	return payment, nil
}

func (s *service) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	rows, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	return rows, nil
}

// MarkConfirmed flips a pending charge to confirmed. Reports applied=false
// when the charge already left pending so repeated webhooks stay quiet.
func (s *service) MarkConfirmed(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, confirmedAt time.Time) (bool, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment")
	}
	if payment.Status != enums.PaymentStatusPending {
		return false, nil
	}
	if confirmedAt.IsZero() {
		confirmedAt = time.Now()
	}
	if err := repo.UpdateStatus(ctx, payment.ID, enums.PaymentStatusConfirmed, &confirmedAt); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirm payment")
	}
	return true, nil
}

func (s *service) MarkRefunded(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil
	}
	if payment.Status != enums.PaymentStatusConfirmed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only confirmed payments can be refunded")
	}
	return repo.UpdateStatus(ctx, payment.ID, enums.PaymentStatusRefunded, nil)
}

// ExpirePendingForOrder closes out the pending charge when the order's
// payment window lapses.
func (s *service) ExpirePendingForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindPendingByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find pending payment")
	}
	return repo.UpdateStatus(ctx, payment.ID, enums.PaymentStatusExpired, nil)
}
