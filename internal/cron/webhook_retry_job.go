package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/ggmarket/ggmarket-backend/pkg/db/models"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

const (
	webhookRetryAfter = 5 * time.Minute
	webhookRetryBatch = 200
)

type unprocessedWebhookReader interface {
	ListUnprocessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.WebhookEvent, error)
}

type jobEnqueuer interface {
	Schedule(ctx context.Context, queue, jobID string, runAt time.Time) (bool, error)
}

// WebhookRetryJobParams configure the unprocessed-webhook sweep.
type WebhookRetryJobParams struct {
	Logger    *logger.Logger
	Reader    unprocessedWebhookReader
	Scheduler jobEnqueuer
}

// NewWebhookRetryJob builds the job that re-enqueues stored notifications
// whose processing job never ran or was dropped after max attempts.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("webhook reader required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("job scheduler required")
	}
	return &webhookRetryJob{
		logg:      params.Logger,
		reader:    params.Reader,
		scheduler: params.Scheduler,
		now:       time.Now,
	}, nil
}

type webhookRetryJob struct {
	logg      *logger.Logger
	reader    unprocessedWebhookReader
	scheduler jobEnqueuer
	now       func() time.Time
}

func (j *webhookRetryJob) Name() string { return "webhook-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	now := j.now()
	stale, err := j.reader.ListUnprocessedBefore(ctx, now.Add(-webhookRetryAfter), webhookRetryBatch)
	if err != nil {
		return fmt.Errorf("list unprocessed webhooks: %w", err)
	}

	enqueued := 0
	for _, event := range stale {
		jobID := scheduler.JobID(scheduler.JobWebhookProcess, event.ID.String())
		added, err := j.scheduler.Schedule(ctx, scheduler.QueueWebhooks, jobID, now)
		if err != nil {
			return fmt.Errorf("enqueue webhook %s: %w", event.ID, err)
		}
		if added {
			enqueued++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"stale":    len(stale),
		"enqueued": enqueued,
	}), "webhook retry sweep complete")
	return nil
}
