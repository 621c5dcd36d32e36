package payments

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
	calls   int
	lastReq pix.ChargeCreateParams
	err     error
}

func (f *fakeGateway) CreateCharge(_ context.Context, params pix.ChargeCreateParams) (*pix.Charge, error) {
	f.calls++
	f.lastReq = params
	if f.err != nil {
		return nil, f.err
	}
	return &pix.Charge{
		TxID:        params.TxID,
		Status:      "ATIVA",
		AmountCents: params.AmountCents,
		QRCode:      "00020126pix-copy-paste",
	}, nil
}

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
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

func newPaymentsService(t *testing.T, db *gorm.DB, gateway Gateway) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:   orders.NewRepository(db),
		DB:     gormTxRunner{db: db},
		Outbox: outbox.NewService(outbox.NewRepository(db), logg),
		Logger: logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(db),
		DB:      gormTxRunner{db: db},
		Orders:  orderSvc,
		Gateway: gateway,
		Logger:  logg,
	})
	require.NoError(t, err)
	return svc
}

func seedPayableOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Status:           status,
		TotalAmountCents: 4990,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestCreateCharge(t *testing.T) {
	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc := newPaymentsService(t, db, gateway)
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	payment, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, order.TotalAmountCents, payment.AmountCents)
	assert.NotEmpty(t, payment.TxID)
	assert.NotEmpty(t, payment.QRCode)
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, order.TotalAmountCents, gateway.lastReq.AmountCents)
	assert.Greater(t, gateway.lastReq.Expiry, time.Duration(0))

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusAwaitingPayment, reloaded.Status)
}

func TestCreateChargeReturnsExistingPendingCharge(t *testing.T) {
	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc := newPaymentsService(t, db, gateway)
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	first, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)

	second, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TxID, second.TxID)
	assert.Equal(t, 1, gateway.calls)
}

func TestCreateChargeRejectsWrongBuyer(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	_, err := svc.CreateCharge(context.Background(), CreateChargeInput{OrderID: order.ID, BuyerID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestCreateChargeRejectsPaidOrder(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	order := seedPayableOrder(t, db, enums.OrderStatusPaid)

	_, err := svc.CreateCharge(context.Background(), CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestCreateChargeRejectsExpiredWindow(t *testing.T) {
	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc := newPaymentsService(t, db, gateway)

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusAwaitingPayment,
		TotalAmountCents: 1000,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(order).Error)

	_, err := svc.CreateCharge(context.Background(), CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, 0, gateway.calls)
}

func TestMarkConfirmedIsIdempotent(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	payment, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 2; i++ {
		var applied bool
		err := db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			applied, txErr = svc.MarkConfirmed(ctx, tx, payment.ID, now)
			return txErr
		})
		require.NoError(t, err)
		assert.Equal(t, i == 0, applied)
	}

	reloaded, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusConfirmed, reloaded.Status)
	require.NotNil(t, reloaded.ConfirmedAt)
}

func TestFindByTxID(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	payment, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)

	found, err := svc.FindByTxID(ctx, nil, payment.TxID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, found.ID)

	_, err = svc.FindByTxID(ctx, nil, "unknown-txid")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestExpirePendingForOrder(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	payment, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.ExpirePendingForOrder(ctx, tx, order.ID)
	}))
	reloaded, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusExpired, reloaded.Status)

	// no pending charge left is a no-op
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.ExpirePendingForOrder(ctx, tx, order.ID)
	}))
}

func TestMarkRefundedRequiresConfirmedCharge(t *testing.T) {
	db := setupPaymentsTestDB(t)
	svc := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()
	order := seedPayableOrder(t, db, enums.OrderStatusCreated)

	payment, err := svc.CreateCharge(ctx, CreateChargeInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.MarkRefunded(ctx, tx, payment.ID)
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, txErr := svc.MarkConfirmed(ctx, tx, payment.ID, time.Now())
		return txErr
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.MarkRefunded(ctx, tx, payment.ID)
	}))

	reloaded, err := svc.Get(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, reloaded.Status)
}
