package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ggmarket/ggmarket-backend/pkg/config"
	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
	"github.com/ggmarket/ggmarket-backend/pkg/metrics"
	"github.com/ggmarket/ggmarket-backend/pkg/scheduler"
)

// Queue is the scheduler surface the dispatcher polls.
type Queue interface {
	Due(ctx context.Context, queue string, now time.Time, limit int) ([]string, error)
	Ack(ctx context.Context, queue, jobID string) error
	Fail(ctx context.Context, queue, jobID string, now time.Time) (bool, int, error)
}

// HandlerFunc processes one job. The entity id is the half of the job id
// after the job type.
type HandlerFunc func(ctx context.Context, entityID string) error

// Dispatcher polls the delayed-job queues and routes due jobs to their
// handlers. Handler errors with a business code are terminal; everything
// else retries with backoff until the queue drops the job.
type Dispatcher struct {
	queue    Queue
	queues   []string
	handlers map[string]HandlerFunc
	cfg      config.SchedulerConfig
	metrics  *metrics.JobMetrics
	logg     *logger.Logger
}

type DispatcherParams struct {
	Queue    Queue
	Queues   []string
	Handlers map[string]HandlerFunc
	Config   config.SchedulerConfig
	Metrics  *metrics.JobMetrics
	Logger   *logger.Logger
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if len(params.Handlers) == 0 {
		return nil, fmt.Errorf("at least one handler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	queues := params.Queues
	if len(queues) == 0 {
		queues = []string{scheduler.QueueOrders, scheduler.QueueWebhooks, scheduler.QueueSettlement}
	}
	cfg := params.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Dispatcher{
		queue:    params.Queue,
		queues:   queues,
		handlers: params.Handlers,
		cfg:      cfg,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Run polls until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "job dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			d.Tick(ctx, time.Now())
		}
	}
}

// Tick drains one batch from every queue. Exposed for tests and for the cron
// sweep that wants an immediate pass.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	for _, queue := range d.queues {
		jobIDs, err := d.queue.Due(ctx, queue, now, d.cfg.BatchSize)
		if err != nil {
			d.logg.Error(ctx, "poll job queue "+queue, err)
			continue
		}
		for _, jobID := range jobIDs {
			d.dispatch(ctx, queue, jobID, now)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, queue, jobID string, now time.Time) {
	jobType, entityID := scheduler.SplitJobID(jobID)
	ctx = d.logg.WithJobID(ctx, jobID)

	handler, ok := d.handlers[jobType]
	if !ok {
		d.logg.Warn(ctx, "no handler for job type "+jobType)
		if err := d.queue.Ack(ctx, queue, jobID); err != nil {
			d.logg.Error(ctx, "ack unhandled job", err)
		}
		return
	}

	started := time.Now()
	err := handler(ctx, entityID)
	d.metrics.ObserveDuration(jobType, time.Since(started))

	if err == nil {
		d.metrics.IncSuccess(jobType)
		if ackErr := d.queue.Ack(ctx, queue, jobID); ackErr != nil {
			d.logg.Error(ctx, "ack job", ackErr)
		}
		return
	}

	if isTerminal(err) {
		d.metrics.IncFailure(jobType)
		d.logg.Error(ctx, "job failed terminally", err)
		if ackErr := d.queue.Ack(ctx, queue, jobID); ackErr != nil {
			d.logg.Error(ctx, "ack failed job", ackErr)
		}
		return
	}

	retried, attempt, failErr := d.queue.Fail(ctx, queue, jobID, now)
	if failErr != nil {
		d.logg.Error(ctx, "record job failure", failErr)
		return
	}
	if retried {
		d.metrics.IncRetry(jobType)
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{"attempt": attempt}), "job retrying")
		return
	}
	d.metrics.IncFailure(jobType)
	d.logg.Error(ctx, "job dropped after max attempts", err)
}

// isTerminal reports whether retrying cannot help: bad input, conflicting
// state, or something a human has to untangle. Not-found stays retryable; a
// webhook can land before the row its txid points at exists.
func isTerminal(err error) bool {
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict, pkgerrors.CodeForbidden, pkgerrors.CodeManualIntervention:
		return true
	default:
		return false
	}
}
