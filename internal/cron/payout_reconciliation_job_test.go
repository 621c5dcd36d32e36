package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ggmarket/ggmarket-backend/internal/settlement"
	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/enums"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

type fakeStuckPayoutReader struct {
	byStatus map[enums.PayoutStatus][]models.Payout
	cutoffs  []time.Time
}

func (f *fakeStuckPayoutReader) ListPayoutsByStatusOlderThan(_ context.Context, status enums.PayoutStatus, cutoff time.Time, _ int) ([]models.Payout, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.byStatus[status], nil
}

type fakeReleaser struct {
	released []uuid.UUID
	errs     map[uuid.UUID]error
}

func (f *fakeReleaser) Release(_ context.Context, input settlement.ReleaseInput) (settlement.ReleaseOutcome, error) {
	if err := f.errs[input.OrderID]; err != nil {
		return settlement.ReleaseOutcome{}, err
	}
	f.released = append(f.released, input.OrderID)
	return settlement.ReleaseOutcome{Released: true}, nil
}

func newPayoutReconciliationJob(t *testing.T, reader *fakeStuckPayoutReader, releaser *fakeReleaser) *payoutReconciliationJob {
	t.Helper()
	jobIface, err := NewPayoutReconciliationJob(PayoutReconciliationJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		Reader:     reader,
		Settlement: releaser,
	})
	if err != nil {
		t.Fatalf("NewPayoutReconciliationJob: %v", err)
	}
	job, ok := jobIface.(*payoutReconciliationJob)
	if !ok {
		t.Fatalf("expected payoutReconciliationJob, got %T", jobIface)
	}
	return job
}

func TestPayoutReconciliationJobRedrivesStuckPayouts(t *testing.T) {
	sentOrder := uuid.New()
	pendingOrder := uuid.New()
	reader := &fakeStuckPayoutReader{byStatus: map[enums.PayoutStatus][]models.Payout{
		enums.PayoutStatusSent:    {{ID: uuid.New(), OrderID: sentOrder}},
		enums.PayoutStatusPending: {{ID: uuid.New(), OrderID: pendingOrder}},
	}}
	releaser := &fakeReleaser{}

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	job := newPayoutReconciliationJob(t, reader, releaser)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(releaser.released) != 2 {
		t.Fatalf("expected 2 releases, got %v", releaser.released)
	}
	want := now.Add(-payoutStuckAfter)
	for _, cutoff := range reader.cutoffs {
		if !cutoff.Equal(want) {
			t.Fatalf("expected cutoff %s, got %s", want, cutoff)
		}
	}
}

func TestPayoutReconciliationJobSkipsManualInterventionCases(t *testing.T) {
	blockedOrder := uuid.New()
	okOrder := uuid.New()
	reader := &fakeStuckPayoutReader{byStatus: map[enums.PayoutStatus][]models.Payout{
		enums.PayoutStatusSent: {
			{ID: uuid.New(), OrderID: blockedOrder},
			{ID: uuid.New(), OrderID: okOrder},
		},
	}}
	releaser := &fakeReleaser{errs: map[uuid.UUID]error{
		blockedOrder: pkgerrors.New(pkgerrors.CodeManualIntervention, "seller payouts blocked"),
	}}

	job := newPayoutReconciliationJob(t, reader, releaser)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(releaser.released) != 1 || releaser.released[0] != okOrder {
		t.Fatalf("expected only %s released, got %v", okOrder, releaser.released)
	}
}

func TestPayoutReconciliationJobCollectsTransientErrors(t *testing.T) {
	failedOrder := uuid.New()
	okOrder := uuid.New()
	reader := &fakeStuckPayoutReader{byStatus: map[enums.PayoutStatus][]models.Payout{
		enums.PayoutStatusPending: {
			{ID: uuid.New(), OrderID: failedOrder},
			{ID: uuid.New(), OrderID: okOrder},
		},
	}}
	releaser := &fakeReleaser{errs: map[uuid.UUID]error{
		failedOrder: errors.New("gateway timeout"),
	}}

	job := newPayoutReconciliationJob(t, reader, releaser)
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(releaser.released) != 1 || releaser.released[0] != okOrder {
		t.Fatalf("expected %s released despite the failure, got %v", okOrder, releaser.released)
	}
}
