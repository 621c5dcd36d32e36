package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

// Store is the redis surface the scheduler needs.
type Store interface {
	ZAddNX(ctx context.Context, key, member string, score float64) (bool, error)
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, max float64, limit int) ([]string, error)
	ZRem(ctx context.Context, key, member string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
	JobQueueKey(queue string) string
	CounterKey(name string) string
}

// Scheduler is a delayed-job queue over a redis sorted set. The member is a
// deterministic job id and the score is the unix time the job becomes due,
// so scheduling the same job twice is a no-op.
type Scheduler struct {
	store  Store
	logger *logger.Logger
	cfg    config.SchedulerConfig
}

func New(store Store, logg *logger.Logger, cfg config.SchedulerConfig) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("scheduler store is required")
	}
	if logg == nil {
		return nil, errors.New("scheduler logger is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}
	return &Scheduler{store: store, logger: logg, cfg: cfg}, nil
}

// JobID builds the deterministic member for a job acting on one entity.
func JobID(jobType, entityID string) string {
	return jobType + ":" + entityID
}

// SplitJobID returns the job type and entity id halves of a member.
func SplitJobID(jobID string) (jobType, entityID string) {
	idx := strings.Index(jobID, ":")
	if idx < 0 {
		return jobID, ""
	}
	return jobID[:idx], jobID[idx+1:]
}

// Schedule enqueues a job to run at runAt. Returns false when the job was
// already scheduled; the existing run time wins.
func (s *Scheduler) Schedule(ctx context.Context, queue, jobID string, runAt time.Time) (bool, error) {
	added, err := s.store.ZAddNX(ctx, s.store.JobQueueKey(queue), jobID, float64(runAt.Unix()))
	if err != nil {
		return false, err
	}
	if added {
		ctx = s.logger.WithJobID(ctx, jobID)
		s.logger.Info(ctx, "job scheduled")
	}
	return added, nil
}

// Cancel removes a pending job. Returns false when nothing was pending.
func (s *Scheduler) Cancel(ctx context.Context, queue, jobID string) (bool, error) {
	removed, err := s.store.ZRem(ctx, s.store.JobQueueKey(queue), jobID)
	if err != nil {
		return false, err
	}
	if removed {
		ctx = s.logger.WithJobID(ctx, jobID)
		s.logger.Info(ctx, "job cancelled")
	}
	return removed, nil
}

// Due returns up to limit job ids whose run time has passed, oldest first.
// Jobs stay in the queue until acked or failed out.
func (s *Scheduler) Due(ctx context.Context, queue string, now time.Time, limit int) ([]string, error) {
	return s.store.ZRangeByScore(ctx, s.store.JobQueueKey(queue), float64(now.Unix()), limit)
}

// Ack removes a completed job and clears its attempt counter.
func (s *Scheduler) Ack(ctx context.Context, queue, jobID string) error {
	if _, err := s.store.ZRem(ctx, s.store.JobQueueKey(queue), jobID); err != nil {
		return err
	}
	return s.store.Del(ctx, s.attemptsKey(queue, jobID))
}

// Fail records a failed attempt. The job is rescheduled with exponential
// backoff until MaxAttempts, then dropped. Returns true when a retry was
// scheduled and the attempt number that just failed.
func (s *Scheduler) Fail(ctx context.Context, queue, jobID string, now time.Time) (bool, int, error) {
	attempts, err := s.store.Incr(ctx, s.attemptsKey(queue, jobID))
	if err != nil {
		return false, 0, err
	}

	ctx = s.logger.WithJobID(ctx, jobID)
	if int(attempts) >= s.cfg.MaxAttempts {
		if _, err := s.store.ZRem(ctx, s.store.JobQueueKey(queue), jobID); err != nil {
			return false, int(attempts), err
		}
		if err := s.store.Del(ctx, s.attemptsKey(queue, jobID)); err != nil {
			return false, int(attempts), err
		}
		s.logger.Warn(ctx, "job dropped after max attempts")
		return false, int(attempts), nil
	}

	next := now.Add(s.Backoff(int(attempts)))
	if err := s.store.ZAdd(ctx, s.store.JobQueueKey(queue), jobID, float64(next.Unix())); err != nil {
		return false, int(attempts), err
	}
	s.logger.Warn(ctx, "job retry scheduled")
	return true, int(attempts), nil
}

// Backoff returns the delay before retry n (1-based), doubling each attempt
// and capped at MaxBackoff.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}

func (s *Scheduler) attemptsKey(queue, jobID string) string {
	return s.store.CounterKey("job_attempts:" + queue + ":" + jobID)
}
