package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ggmarket/ggmarket-backend/internal/orders"
	"github.com/ggmarket/ggmarket-backend/internal/payments"
	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	pixwebhook "github.com/ggmarket/ggmarket-backend/internal/webhooks/pix"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

// JobScheduler is the scheduling slice handlers need to chain follow-up jobs.
type JobScheduler interface {
	Schedule(ctx context.Context, queue, jobID string, runAt time.Time) (bool, error)
}

// Handlers binds each job type to the domain operation behind it.
type Handlers struct {
	db         orders.TxRunner
	orders     orders.Service
	payments   payments.Service
	settlement settlement.Service
	webhooks   pixwebhook.Service
	scheduler  JobScheduler
	logg       *logger.Logger
}

type HandlersParams struct {
	DB         orders.TxRunner
	Orders     orders.Service
	Payments   payments.Service
	Settlement settlement.Service
	Webhooks   pixwebhook.Service
	Scheduler  JobScheduler
	Logger     *logger.Logger
}

func NewHandlers(params HandlersParams) (*Handlers, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
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
	if params.Webhooks == nil {
		return nil, fmt.Errorf("webhooks service required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("job scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handlers{
		db:         params.DB,
		orders:     params.Orders,
		payments:   params.Payments,
		settlement: params.Settlement,
		webhooks:   params.Webhooks,
		scheduler:  params.Scheduler,
		logg:       params.Logger,
	}, nil
}

// Map returns the job-type routing table for the dispatcher.
func (h *Handlers) Map() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		scheduler.JobOrderExpire:       h.ExpireOrder,
		scheduler.JobOrderAutoComplete: h.AutoCompleteOrder,
		scheduler.JobWebhookProcess:    h.ProcessWebhook,
		scheduler.JobSettlementRelease: h.ReleaseSettlement,
	}
}

// ExpireOrder cancels an order whose payment window lapsed and expires its
// pending charge. A no-op when payment won the race.
func (h *Handlers) ExpireOrder(ctx context.Context, entityID string) error {
	orderID, err := uuid.Parse(entityID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id")
	}

	expired, err := h.orders.Expire(ctx, orderID)
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}
	return h.db.WithTx(ctx, func(tx *gorm.DB) error {
		return h.payments.ExpirePendingForOrder(ctx, tx, orderID)
	})
}

// AutoCompleteOrder completes a delivered order after the review window and
// chains the settlement release.
func (h *Handlers) AutoCompleteOrder(ctx context.Context, entityID string) error {
	orderID, err := uuid.Parse(entityID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id")
	}

	completed, err := h.orders.AutoComplete(ctx, orderID)
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}

	jobID := scheduler.JobID(scheduler.JobSettlementRelease, orderID.String())
	if _, err := h.scheduler.Schedule(ctx, scheduler.QueueSettlement, jobID, time.Now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue settlement release")
	}
	return nil
}

func (h *Handlers) ProcessWebhook(ctx context.Context, entityID string) error {
	eventID, err := uuid.Parse(entityID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse event id")
	}
	return h.webhooks.Process(ctx, eventID)
}

func (h *Handlers) ReleaseSettlement(ctx context.Context, entityID string) error {
	orderID, err := uuid.Parse(entityID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id")
	}
	_, err = h.settlement.Release(ctx, settlement.ReleaseInput{OrderID: orderID})
	return err
}
