package disputes

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
	"github.com/ggmarket/ggmarket-backend/internal/settlement"
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

type scheduledJob struct {
	queue string
	jobID string
	runAt time.Time
}

type fakeScheduler struct {
	scheduled []scheduledJob
	cancelled []string
}

func (f *fakeScheduler) Schedule(_ context.Context, queue, jobID string, runAt time.Time) (bool, error) {
	f.scheduled = append(f.scheduled, scheduledJob{queue: queue, jobID: jobID, runAt: runAt})
	return true, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, _ string, jobID string) (bool, error) {
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

type stubChargeGateway struct{}

func (stubChargeGateway) CreateCharge(_ context.Context, params pix.ChargeCreateParams) (*pix.Charge, error) {
	return &pix.Charge{TxID: params.TxID, Status: "ATIVA", AmountCents: params.AmountCents}, nil
}

type fakeSettlementGateway struct {
	refundCalls int
}

func (f *fakeSettlementGateway) GetCharge(_ context.Context, txid string) (*pix.Charge, error) {
	return &pix.Charge{TxID: txid, Status: "CONCLUIDA", EndToEndID: "E60701190202609011200oCX1Mx3T"}, nil
}

func (f *fakeSettlementGateway) RefundCharge(_ context.Context, params pix.RefundParams) (*pix.Refund, error) {
	f.refundCalls++
	return &pix.Refund{ID: params.RefundID, Status: "DEVOLVIDO", AmountCents: params.AmountCents}, nil
}

func (f *fakeSettlementGateway) CashOut(_ context.Context, params pix.CashOutParams) (*pix.CashOut, error) {
	return &pix.CashOut{EndToEndID: "E000", Status: "EFETIVADO", AmountCents: params.AmountCents}, nil
}

func setupDisputesTestDB(t *testing.T) *gorm.DB {
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
  order_id TEXT NOT NULL,
  opened_by_id TEXT NOT NULL,
  ticket_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  reason TEXT NOT NULL,
  resolution TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_disputes_order_id UNIQUE (order_id)
);
CREATE TABLE IF NOT EXISTS dispute_evidence (
  id TEXT PRIMARY KEY,
  dispute_id TEXT NOT NULL,
  submitted_by_id TEXT NOT NULL,
  body TEXT NOT NULL,
  attachment_url TEXT,
  created_at DATETIME
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

type disputesFixture struct {
	db        *gorm.DB
	svc       Service
	orders    orders.Service
	payments  payments.Service
	gateway   *fakeSettlementGateway
	scheduler *fakeScheduler
}

func newDisputesFixture(t *testing.T) *disputesFixture {
	t.Helper()

	db := setupDisputesTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "disputes-test", Output: io.Discard})
	outboxSvc := outbox.NewService(outbox.NewRepository(db), logg)
	orderRepo := orders.NewRepository(db)
	runner := gormTxRunner{db: db}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:   orderRepo,
		DB:     runner,
		Outbox: outboxSvc,
		Logger: logg,
	})
	require.NoError(t, err)

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Repo:    payments.NewRepository(db),
		DB:      runner,
		Orders:  orderSvc,
		Gateway: stubChargeGateway{},
		Logger:  logg,
	})
	require.NoError(t, err)

	gateway := &fakeSettlementGateway{}
	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:      settlement.NewRepository(db),
		DB:        runner,
		OrderRepo: orderRepo,
		Orders:    orderSvc,
		Payments:  paymentSvc,
		Users:     users.NewRepository(db),
		Gateway:   gateway,
		Outbox:    outboxSvc,
		Config:    config.SettlementConfig{FeeBps: 500, PayoutMode: "cashout"},
		Logger:    logg,
	})
	require.NoError(t, err)

	sched := &fakeScheduler{}
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(db),
		DB:         runner,
		Orders:     orderSvc,
		Settlement: settlementSvc,
		Outbox:     outboxSvc,
		Scheduler:  sched,
		Config:     config.SettlementConfig{DisputeWindow: 7 * 24 * time.Hour},
		Logger:     logg,
	})
	require.NoError(t, err)

	return &disputesFixture{
		db:        db,
		svc:       svc,
		orders:    orderSvc,
		payments:  paymentSvc,
		gateway:   gateway,
		scheduler: sched,
	}
}

func (f *disputesFixture) seedDeliveredOrder(t *testing.T) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusDelivered,
		TotalAmountCents: 10000,
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
		AmountCents: order.TotalAmountCents,
		Currency:    "BRL",
		ConfirmedAt: &now,
	}
	require.NoError(t, f.db.Create(payment).Error)

	orderID := order.ID
	paymentID := payment.ID
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		Type:        enums.LedgerEntryTypeCredit,
		State:       enums.LedgerEntryStateHeld,
		Source:      enums.LedgerSourceOrderPayment,
		AmountCents: order.TotalAmountCents,
		Currency:    "BRL",
		UserID:      order.SellerID,
		OrderID:     &orderID,
		PaymentID:   &paymentID,
	}
	require.NoError(t, f.db.Create(entry).Error)
	return order
}

func TestOpenDispute(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Reason:  "key already redeemed",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, order.BuyerID, dispute.OpenedByID)

	refreshed, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDisputed, refreshed.Status)

	var ticket models.SupportTicket
	require.NoError(t, f.db.First(&ticket, "id = ?", dispute.TicketID).Error)
	assert.Equal(t, enums.TicketStatusOpen, ticket.Status)

	assert.Contains(t, f.scheduler.cancelled, "settlement.release:"+order.ID.String())
	assert.Contains(t, f.scheduler.cancelled, "order.autocomplete:"+order.ID.String())

	var eventCount int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventDisputeOpened).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

func TestOpenDisputeRejectsNonBuyer(t *testing.T) {
	f := newDisputesFixture(t)
	order := f.seedDeliveredOrder(t)

	_, err := f.svc.Open(context.Background(), OpenInput{
		OrderID: order.ID,
		BuyerID: uuid.New(),
		Reason:  "not mine",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestOpenDisputeRejectsUnpaidOrder(t *testing.T) {
	f := newDisputesFixture(t)

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.OrderStatusCreated,
		TotalAmountCents: 10000,
		Currency:         "BRL",
		ExpiresAt:        time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, f.db.Create(order).Error)

	_, err := f.svc.Open(context.Background(), OpenInput{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Reason:  "never paid",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func (f *disputesFixture) seedCompletedOrder(t *testing.T, completedAt time.Time) *models.Order {
	t.Helper()

	order := f.seedDeliveredOrder(t)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{"status": enums.OrderStatusCompleted, "completed_at": completedAt}).Error)
	order.Status = enums.OrderStatusCompleted
	order.CompletedAt = &completedAt
	return order
}

func TestOpenDisputeOnRecentlyCompletedOrder(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedCompletedOrder(t, time.Now().Add(-48*time.Hour))

	dispute, err := f.svc.Open(ctx, OpenInput{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Reason:  "key stopped working after a day",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)

	refreshed, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDisputed, refreshed.Status)
}

func TestOpenDisputeAfterWindowClosed(t *testing.T) {
	f := newDisputesFixture(t)
	order := f.seedCompletedOrder(t, time.Now().Add(-8*24*time.Hour))

	_, err := f.svc.Open(context.Background(), OpenInput{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Reason:  "too late now",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestOpenDisputeRejectsSecondDispute(t *testing.T) {
	f := newDisputesFixture(t)
	order := f.seedDeliveredOrder(t)

	existing := &models.Dispute{
		ID:         uuid.New(),
		OrderID:    order.ID,
		OpenedByID: order.BuyerID,
		TicketID:   uuid.New(),
		Status:     enums.DisputeStatusResolved,
		Reason:     "earlier dispute",
	}
	require.NoError(t, f.db.Create(existing).Error)

	_, err := f.svc.Open(context.Background(), OpenInput{
		OrderID: order.ID,
		BuyerID: order.BuyerID,
		Reason:  "second attempt",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestResolveForSeller(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)

	adminID := uuid.New()
	resolved, err := f.svc.Resolve(ctx, ResolveInput{
		DisputeID: dispute.ID,
		ActorID:   adminID,
		InFavorOf: ResolutionSeller,
		Note:      "delivery proof provided",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	refreshed, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, refreshed.Status)

	var ticket models.SupportTicket
	require.NoError(t, f.db.First(&ticket, "id = ?", dispute.TicketID).Error)
	assert.Equal(t, enums.TicketStatusResolved, ticket.Status)

	found := false
	for _, job := range f.scheduler.scheduled {
		if job.jobID == "settlement.release:"+order.ID.String() {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResolveForBuyerRefunds(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)

	resolved, err := f.svc.Resolve(ctx, ResolveInput{
		DisputeID: dispute.ID,
		ActorID:   uuid.New(),
		InFavorOf: ResolutionBuyer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Status)
	assert.Equal(t, 1, f.gateway.refundCalls)

	refreshed, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, refreshed.Status)
}

func TestAddEvidence(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)

	url := "https://cdn.example.com/delivery-receipt.png"
	evidence, err := f.svc.AddEvidence(ctx, EvidenceInput{
		DisputeID:     dispute.ID,
		SubmittedByID: order.SellerID,
		Body:          "delivery receipt attached",
		AttachmentURL: &url,
	})
	require.NoError(t, err)
	assert.Equal(t, order.SellerID, evidence.SubmittedByID)
	require.NotNil(t, evidence.AttachmentURL)
	assert.Equal(t, url, *evidence.AttachmentURL)

	items, err := f.svc.ListEvidence(ctx, dispute.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "delivery receipt attached", items[0].Body)
}

func TestAddEvidenceRejectsOutsiders(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)

	_, err = f.svc.AddEvidence(ctx, EvidenceInput{
		DisputeID:     dispute.ID,
		SubmittedByID: uuid.New(),
		Body:          "I have opinions about this order",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestAddEvidenceAfterResolution(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, ResolveInput{DisputeID: dispute.ID, ActorID: uuid.New(), InFavorOf: ResolutionSeller})
	require.NoError(t, err)

	_, err = f.svc.AddEvidence(ctx, EvidenceInput{
		DisputeID:     dispute.ID,
		SubmittedByID: order.BuyerID,
		Body:          "one more thing",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestResolveTwiceIsRejected(t *testing.T) {
	f := newDisputesFixture(t)
	ctx := context.Background()
	order := f.seedDeliveredOrder(t)

	dispute, err := f.svc.Open(ctx, OpenInput{OrderID: order.ID, BuyerID: order.BuyerID, Reason: "item broken"})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, ResolveInput{DisputeID: dispute.ID, ActorID: uuid.New(), InFavorOf: ResolutionSeller})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, ResolveInput{DisputeID: dispute.ID, ActorID: uuid.New(), InFavorOf: ResolutionBuyer})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}
