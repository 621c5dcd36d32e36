package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

const (
	payoutStuckAfter = 15 * time.Minute
	payoutBatch      = 100
)

type stuckPayoutReader interface {
	ListPayoutsByStatusOlderThan(ctx context.Context, status enums.PayoutStatus, cutoff time.Time, limit int) ([]models.Payout, error)
}

type settlementReleaser interface {
	Release(ctx context.Context, input settlement.ReleaseInput) (settlement.ReleaseOutcome, error)
}

// PayoutReconciliationJobParams configure the stuck-payout sweep.
type PayoutReconciliationJobParams struct {
	Logger     *logger.Logger
	Reader     stuckPayoutReader
	Settlement settlementReleaser
}

// NewPayoutReconciliationJob builds the job that re-drives releases whose
// recording transaction never ran, typically after a crash between the
// cash-out call and the ledger write.
func NewPayoutReconciliationJob(params PayoutReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("payout reader required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	return &payoutReconciliationJob{
		logg:       params.Logger,
		reader:     params.Reader,
		settlement: params.Settlement,
		now:        time.Now,
	}, nil
}

type payoutReconciliationJob struct {
	logg       *logger.Logger
	reader     stuckPayoutReader
	settlement settlementReleaser
	now        func() time.Time
}

func (j *payoutReconciliationJob) Name() string { return "payout-reconciliation" }

func (j *payoutReconciliationJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-payoutStuckAfter)

	var errs error
	repaired := 0
	for _, status := range []enums.PayoutStatus{enums.PayoutStatusSent, enums.PayoutStatusPending} {
		stuck, err := j.reader.ListPayoutsByStatusOlderThan(ctx, status, cutoff, payoutBatch)
		if err != nil {
			return fmt.Errorf("list stuck payouts: %w", err)
		}
		for _, payout := range stuck {
			outcome, err := j.settlement.Release(ctx, settlement.ReleaseInput{OrderID: payout.OrderID})
			if err != nil {
				orderCtx := j.logg.WithOrderID(ctx, payout.OrderID.String())
				if code := pkgerrors.As(err).Code(); code == pkgerrors.CodeManualIntervention || code == pkgerrors.CodeStateConflict {
					j.logg.Warn(orderCtx, "stuck payout needs manual review")
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("reconcile payout %s: %w", payout.ID, err))
				continue
			}
			if outcome.Released {
				repaired++
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"repaired": repaired}), "payout reconciliation complete")
	return errs
}
