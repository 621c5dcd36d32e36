package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
)

// Repository persists the escrow ledger, payout intents and audit records.
// Ledger rows are append-only; nothing here updates or deletes an entry.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindHeldCredit(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error)
	HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType, state enums.LedgerEntryState, source enums.LedgerSource) (bool, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	BalanceByUser(ctx context.Context, userID uuid.UUID, state enums.LedgerEntryState) (int64, error)

	CreatePayout(ctx context.Context, payout *models.Payout) error
	FindPayoutByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payout, error)
	UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListPayoutsByStatusOlderThan(ctx context.Context, status enums.PayoutStatus, cutoff time.Time, limit int) ([]models.Payout, error)

	HasOpenDispute(ctx context.Context, orderID uuid.UUID) (bool, error)
	CountConfirmedPayments(ctx context.Context, orderID uuid.UUID) (int64, error)
	InsertAuditLog(ctx context.Context, log *models.AuditLog) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindHeldCredit returns the escrow credit written when the order's payment
// confirmed.
func (r *repository) FindHeldCredit(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Where("type = ?", enums.LedgerEntryTypeCredit).
		Where("state = ?", enums.LedgerEntryStateHeld).
		Where("source = ?", enums.LedgerSourceOrderPayment).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) HasEntry(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType, state enums.LedgerEntryState, source enums.LedgerSource) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("order_id = ?", orderID).
		Where("type = ?", entryType).
		Where("state = ?", state).
		Where("source = ?", source).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// BalanceByUser nets credits against debits for one bucket of a user's funds.
func (r *repository) BalanceByUser(ctx context.Context, userID uuid.UUID, state enums.LedgerEntryState) (int64, error) {
	var balance *int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("SUM(CASE WHEN type = ? THEN amount_cents ELSE -amount_cents END)", enums.LedgerEntryTypeCredit).
		Where("user_id = ?", userID).
		Where("state = ?", state).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return *balance, nil
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindPayoutByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).First(&payout, "order_id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdatePayout(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListPayoutsByStatusOlderThan feeds the reconciliation cron.
func (r *repository) ListPayoutsByStatusOlderThan(ctx context.Context, status enums.PayoutStatus, cutoff time.Time, limit int) ([]models.Payout, error) {
	var rows []models.Payout
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasOpenDispute(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("order_id = ?", orderID).
		Where("status = ?", enums.DisputeStatusOpen).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) CountConfirmedPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Where("status = ?", enums.PaymentStatusConfirmed).
		Count(&n).Error
	return n, err
}

func (r *repository) InsertAuditLog(ctx context.Context, log *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
