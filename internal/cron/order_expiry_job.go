package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const (
	orderExpiryGrace = 5 * time.Minute
	orderExpiryBatch = 200
)

type expiredOrderReader interface {
	ListExpiredAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderExpirer interface {
	Expire(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type pendingChargeExpirer interface {
	ExpirePendingForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// OrderExpiryJobParams configure the expiry sweep behind the scheduled
// per-order expire jobs.
type OrderExpiryJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Reader   expiredOrderReader
	Orders   orderExpirer
	Payments pendingChargeExpirer
}

// NewOrderExpiryJob builds the sweep that catches orders whose expire job was
// lost, for example when redis was down at checkout time.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &orderExpiryJob{
		logg:     params.Logger,
		db:       params.DB,
		reader:   params.Reader,
		orders:   params.Orders,
		payments: params.Payments,
		now:      time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg     *logger.Logger
	db       txRunner
	reader   expiredOrderReader
	orders   orderExpirer
	payments pendingChargeExpirer
	now      func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry-sweep" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-orderExpiryGrace)
	stale, err := j.reader.ListExpiredAwaitingPayment(ctx, cutoff, orderExpiryBatch)
	if err != nil {
		return fmt.Errorf("list expired orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range stale {
		ok, err := j.orders.Expire(ctx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if !ok {
			continue
		}
		expired++
		orderID := order.ID
		if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.payments.ExpirePendingForOrder(ctx, tx, orderID)
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire charge for order %s: %w", order.ID, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"stale":   len(stale),
		"expired": expired,
	}), "order expiry sweep complete")
	return errs
}
