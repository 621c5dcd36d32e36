package settlement

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
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
	"github.com/ggmarket/ggmarket-backend/pkg/pix"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fakeGateway struct {
	cashOutCalls int
	refundCalls  int
	lastCashOut  pix.CashOutParams
	lastRefund   pix.RefundParams
	cashOutErr   error
	refundErr    error
	endToEndID   string
}

func (f *fakeGateway) GetCharge(_ context.Context, txid string) (*pix.Charge, error) {
	return &pix.Charge{TxID: txid, Status: "CONCLUIDA", EndToEndID: f.endToEndID}, nil
}

func (f *fakeGateway) RefundCharge(_ context.Context, params pix.RefundParams) (*pix.Refund, error) {
	f.refundCalls++
	f.lastRefund = params
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &pix.Refund{ID: params.RefundID, Status: "DEVOLVIDO", AmountCents: params.AmountCents}, nil
}

func (f *fakeGateway) CashOut(_ context.Context, params pix.CashOutParams) (*pix.CashOut, error) {
	f.cashOutCalls++
	f.lastCashOut = params
	if f.cashOutErr != nil {
		return nil, f.cashOutErr
	}
	return &pix.CashOut{EndToEndID: "E12345678202609011200abcdef", Status: "EFETIVADO", AmountCents: params.AmountCents}, nil
}

type stubChargeGateway struct{}

func (stubChargeGateway) CreateCharge(_ context.Context, params pix.ChargeCreateParams) (*pix.Charge, error) {
	return &pix.Charge{TxID: params.TxID, Status: "ATIVA", AmountCents: params.AmountCents}, nil
}

func setupSettlementTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  display_name TEXT NOT NULL,
  pix_key TEXT,
  payout_blocked INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'BRL',
  expires_at DATETIME NOT NULL,
  delivered_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor_id TEXT,
  reason TEXT,
  source TEXT NOT NULL,
  ip TEXT,
  user_agent TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  txid TEXT NOT NULL UNIQUE,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'BRL',
  qr_code TEXT,
  confirmed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  state TEXT NOT NULL,
  source TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'BRL',
  user_id TEXT NOT NULL,
  order_id TEXT,
  payment_id TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS payouts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  seller_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  fee_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'BRL',
  idempotency_key TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'pending',
  provider_ref TEXT,
  last_error TEXT,
  sent_at DATETIME,
  recorded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  opened_by_id TEXT NOT NULL,
  ticket_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  reason TEXT NOT NULL,
  resolution TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS support_tickets (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS audit_logs (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  action TEXT NOT NULL,
  target_id TEXT NOT NULL,
  metadata TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

type settlementFixture struct {
	db       *gorm.DB
	svc      Service
	gateway  *fakeGateway
	payments payments.Service
	orders   orders.Service
	users    users.Repository
}

func newSettlementFixture(t *testing.T, cfg config.SettlementConfig) *settlementFixture {
	t.Helper()

	db := setupSettlementTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})
	outboxSvc := outbox.NewService(outbox.NewRepository(db), logg)
	orderRepo := orders.NewRepository(db)

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:   orderRepo,
		DB:     gormTxRunner{db: db},
		Outbox: outboxSvc,
		Logger: logg,
	})
	require.NoError(t, err)

	gateway := &fakeGateway{endToEndID: "E98765432202609011200fedcba"}
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:    payments.NewRepository(db),
		DB:      gormTxRunner{db: db},
		Orders:  orderSvc,
		Gateway: stubChargeGateway{},
		Logger:  logg,
	})
	require.NoError(t, err)

	userRepo := users.NewRepository(db)
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(db),
		DB:        gormTxRunner{db: db},
		OrderRepo: orderRepo,
		Orders:    orderSvc,
		Payments:  paymentSvc,
		Users:     userRepo,
		Gateway:   gateway,
		Outbox:    outboxSvc,
		Config:    cfg,
		Logger:    logg,
	})
	require.NoError(t, err)

	return &settlementFixture{
		db:       db,
		svc:      svc,
		gateway:  gateway,
		payments: paymentSvc,
		orders:   orderSvc,
		users:    userRepo,
	}
}

func cashOutConfig() config.SettlementConfig {
	return config.SettlementConfig{FeeBps: 500, PayoutMode: "cashout", AutoCompleteDelay: 168 * time.Hour, OrderTTL: 30 * time.Minute}
}

func ledgerOnlyConfig() config.SettlementConfig {
	return config.SettlementConfig{FeeBps: 500, PayoutMode: "ledger", AutoCompleteDelay: 168 * time.Hour, OrderTTL: 30 * time.Minute}
}

func (f *settlementFixture) seedSeller(t *testing.T, pixKey string) uuid.UUID {
	t.Helper()
	seller := &models.User{ID: uuid.New(), Email: uuid.New().String() + "@test.dev", DisplayName: "seller"}
	if pixKey != "" {
		seller.PixKey = &pixKey
	}
	require.NoError(t, f.db.Create(seller).Error)
	return seller.ID
}

func (f *settlementFixture) seedPaidOrder(t *testing.T, sellerID uuid.UUID, status enums.OrderStatus, amountCents int64) (*models.Order, *models.Payment) {
	t.Helper()
	ctx := context.Background()

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         sellerID,
		Status:           status,
		TotalAmountCents: amountCents,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, f.db.Create(order).Error)

	now := time.Now()
	payment := &models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Status:      enums.PaymentStatusConfirmed,
		TxID:        pix.NewTxID(),
		AmountCents: amountCents,
		Currency:    "BRL",
		ConfirmedAt: &now,
	}
	require.NoError(t, f.db.Create(payment).Error)

	err := gormTxRunner{db: f.db}.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := f.svc.CreateHeldEntry(ctx, tx, HeldEntryInput{
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			SellerID:    sellerID,
			AmountCents: amountCents,
			Currency:    "BRL",
		})
		return err
	})
	require.NoError(t, err)
	return order, payment
}

func (f *settlementFixture) ledgerEntries(t *testing.T, orderID uuid.UUID) []models.LedgerEntry {
	t.Helper()
	rows, err := f.svc.LedgerForOrder(context.Background(), orderID)
	require.NoError(t, err)
	return rows
}

func TestFeeCents(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	svc := f.svc

	cases := []struct {
		amount int64
		want   int64
	}{
		{0, 0},
		{-100, 0},
		{10000, 500},
		{9999, 500},
		{1, 0},
		{10, 1},
		{9, 0},
		{1000000, 50000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, svc.FeeCents(tc.amount), "amount %d", tc.amount)
	}
}

func TestCreateHeldEntryIsIdempotent(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, payment := f.seedPaidOrder(t, sellerID, enums.OrderStatusPaid, 10000)

	err := gormTxRunner{db: f.db}.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := f.svc.CreateHeldEntry(ctx, tx, HeldEntryInput{
			OrderID:     order.ID,
			PaymentID:   payment.ID,
			SellerID:    sellerID,
			AmountCents: 10000,
		})
		require.NoError(t, err)
		assert.False(t, applied)
		return nil
	})
	require.NoError(t, err)

	entries := f.ledgerEntries(t, order.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.LedgerEntryStateHeld, entries[0].State)

	held, _, err := f.svc.Balances(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), held)
}

func TestRelease(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	outcome, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.True(t, outcome.Released)
	assert.False(t, outcome.AlreadyReleased)
	assert.Equal(t, int64(10000), outcome.GrossCents)
	assert.Equal(t, int64(500), outcome.FeeCents)
	assert.Equal(t, int64(9500), outcome.NetCents)

	assert.Equal(t, 1, f.gateway.cashOutCalls)
	assert.Equal(t, "seller@pix.dev", f.gateway.lastCashOut.DestinationKey)
	assert.Equal(t, int64(9500), f.gateway.lastCashOut.AmountCents)

	var payout models.Payout
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&payout).Error)
	assert.Equal(t, enums.PayoutStatusRecorded, payout.Status)
	assert.NotNil(t, payout.SentAt)
	assert.NotNil(t, payout.ProviderRef)

	entries := f.ledgerEntries(t, order.ID)
	require.Len(t, entries, 5)

	var feeTotal, payoutTotal int64
	for _, entry := range entries {
		switch entry.Source {
		case enums.LedgerSourceFee:
			feeTotal += entry.AmountCents
		case enums.LedgerSourcePayout:
			payoutTotal += entry.AmountCents
		}
	}
	assert.Equal(t, int64(10000), feeTotal+payoutTotal)

	held, available, err := f.svc.Balances(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)
	assert.Equal(t, int64(0), available)
}

func TestReleaseWithoutCashOutLeavesAvailableBalance(t *testing.T) {
	f := newSettlementFixture(t, ledgerOnlyConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	outcome, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.True(t, outcome.Released)
	assert.Equal(t, 0, f.gateway.cashOutCalls)

	held, available, err := f.svc.Balances(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)
	assert.Equal(t, int64(9500), available)
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	first, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)
	require.True(t, first.Released)

	second, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.False(t, second.Released)
	assert.True(t, second.AlreadyReleased)
	assert.Equal(t, 1, f.gateway.cashOutCalls)
	assert.Len(t, f.ledgerEntries(t, order.ID), 5)
}

func TestReleaseRejectsIncompleteOrder(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusPaid, 10000)

	_, err := f.svc.Release(context.Background(), ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestReleaseBlockedByOpenDispute(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	dispute := &models.Dispute{
		ID:         uuid.New(),
		OrderID:    order.ID,
		OpenedByID: order.BuyerID,
		TicketID:   uuid.New(),
		Status:     enums.DisputeStatusOpen,
		Reason:     "item never arrived",
	}
	require.NoError(t, f.db.Create(dispute).Error)

	_, err := f.svc.Release(context.Background(), ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.cashOutCalls)
}

func TestReleaseBlockedSellerNeedsManualIntervention(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)
	require.NoError(t, f.users.SetPayoutBlocked(ctx, sellerID, true))

	_, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeManualIntervention, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.cashOutCalls)
}

func TestReleaseCashOutFailureMarksPayoutFailed(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)
	f.gateway.cashOutErr = assert.AnError

	_, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	var payout models.Payout
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&payout).Error)
	assert.Equal(t, enums.PayoutStatusFailed, payout.Status)
	require.NotNil(t, payout.LastError)

	// Next attempt retries the cash-out with the same idempotency key.
	f.gateway.cashOutErr = nil
	outcome, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)
	assert.True(t, outcome.Released)
	assert.Equal(t, 2, f.gateway.cashOutCalls)
	assert.Equal(t, payout.IdempotencyKey, f.gateway.lastCashOut.IdempotencyKey)
}

func TestReleaseWithoutPixKeyNeedsManualIntervention(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	_, err := f.svc.Release(context.Background(), ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeManualIntervention, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.cashOutCalls)

	var payout models.Payout
	require.NoError(t, f.db.Where("order_id = ?", order.ID).First(&payout).Error)
	assert.Equal(t, enums.PayoutStatusFailed, payout.Status)
}

func TestRefund(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, payment := f.seedPaidOrder(t, sellerID, enums.OrderStatusDisputed, 10000)

	outcome, err := f.svc.Refund(ctx, RefundInput{OrderID: order.ID, Reason: "dispute resolved for buyer"})
	require.NoError(t, err)
	assert.True(t, outcome.Refunded)
	assert.False(t, outcome.ChargebackOpened)
	assert.Equal(t, int64(10000), outcome.AmountCents)

	assert.Equal(t, 1, f.gateway.refundCalls)
	assert.Equal(t, f.gateway.endToEndID, f.gateway.lastRefund.EndToEndID)
	assert.Equal(t, int64(10000), f.gateway.lastRefund.AmountCents)
	assert.Len(t, f.gateway.lastRefund.RefundID, 32)

	refreshed, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, refreshed.Status)

	var updated models.Payment
	require.NoError(t, f.db.First(&updated, "id = ?", payment.ID).Error)
	assert.Equal(t, enums.PaymentStatusRefunded, updated.Status)

	held, available, err := f.svc.Balances(ctx, sellerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)
	assert.Equal(t, int64(0), available)
}

func TestRefundAfterReleaseOpensChargeback(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	ctx := context.Background()
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	_, err := f.svc.Release(ctx, ReleaseInput{OrderID: order.ID})
	require.NoError(t, err)

	// A late dispute reopened the completed order before the ruling.
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusDisputed).Error)

	outcome, err := f.svc.Refund(ctx, RefundInput{OrderID: order.ID, Reason: "buyer reported fraud"})
	require.NoError(t, err)
	assert.False(t, outcome.Refunded)
	assert.True(t, outcome.ChargebackOpened)
	assert.NotEqual(t, uuid.Nil, outcome.TicketID)
	assert.Equal(t, 0, f.gateway.refundCalls)

	seller, err := f.users.FindByID(ctx, sellerID)
	require.NoError(t, err)
	assert.True(t, seller.PayoutBlocked)

	var ticket models.SupportTicket
	require.NoError(t, f.db.First(&ticket, "id = ?", outcome.TicketID).Error)
	assert.Equal(t, enums.TicketStatusOpen, ticket.Status)
	assert.Equal(t, sellerID, ticket.UserID)
}

func TestRefundRejectsUnfundedOrder(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         sellerID,
		Status:           enums.OrderStatusDisputed,
		TotalAmountCents: 10000,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, f.db.Create(order).Error)

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestRefundRequiresDispute(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusDelivered, 10000)

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: order.ID, Reason: "buyer changed mind"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.refundCalls)
}

func TestReleaseRejectsOrderWithoutConfirmedPayment(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, payment := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)
	require.NoError(t, f.db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Update("status", enums.PaymentStatusExpired).Error)

	_, err := f.svc.Release(context.Background(), ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.cashOutCalls)
}

func TestReleaseFlagsDoubleConfirmedPayment(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")
	order, _ := f.seedPaidOrder(t, sellerID, enums.OrderStatusCompleted, 10000)

	now := time.Now()
	require.NoError(t, f.db.Create(&models.Payment{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Status:      enums.PaymentStatusConfirmed,
		TxID:        pix.NewTxID(),
		AmountCents: 10000,
		Currency:    "BRL",
		ConfirmedAt: &now,
	}).Error)

	_, err := f.svc.Release(context.Background(), ReleaseInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeManualIntervention, pkgerrors.As(err).Code())
	assert.Equal(t, 0, f.gateway.cashOutCalls)
}

func TestRefundRejectsUnpaidOrder(t *testing.T) {
	f := newSettlementFixture(t, cashOutConfig())
	sellerID := f.seedSeller(t, "seller@pix.dev")

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         sellerID,
		Status:           enums.OrderStatusCreated,
		TotalAmountCents: 10000,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, f.db.Create(order).Error)

	_, err := f.svc.Refund(context.Background(), RefundInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}
