package scheduler

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggmarket/ggmarket-backend/pkg/config"
	"github.com/ggmarket/ggmarket-backend/pkg/logger"
)

type fakeStore struct {
	zsets    map[string]map[string]float64
	counters map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		zsets:    map[string]map[string]float64{},
		counters: map[string]int64{},
	}
}

func (f *fakeStore) ZAddNX(_ context.Context, key, member string, score float64) (bool, error) {
	set, ok := f.zsets[key]
	if !ok {
		set = map[string]float64{}
		f.zsets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = score
	return true, nil
}

func (f *fakeStore) ZAdd(_ context.Context, key, member string, score float64) error {
	set, ok := f.zsets[key]
	if !ok {
		set = map[string]float64{}
		f.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (f *fakeStore) ZRangeByScore(_ context.Context, key string, max float64, limit int) ([]string, error) {
	type entry struct {
		member string
		score  float64
	}
	var entries []entry
	for member, score := range f.zsets[key] {
		if score <= max {
			entries = append(entries, entry{member, score})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	var out []string
	for _, e := range entries {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e.member)
	}
	return out, nil
}

func (f *fakeStore) ZRem(_ context.Context, key, member string) (bool, error) {
	set := f.zsets[key]
	if _, ok := set[member]; !ok {
		return false, nil
	}
	delete(set, member)
	return true, nil
}

func (f *fakeStore) Incr(_ context.Context, key string) (int64, error) {
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.counters, key)
		delete(f.zsets, key)
	}
	return nil
}

func (f *fakeStore) JobQueueKey(queue string) string { return "gg:jobs:" + queue }
func (f *fakeStore) CounterKey(name string) string   { return "gg:counter:" + name }

func newTestScheduler(t *testing.T, store Store) *Scheduler {
	t.Helper()
	s, err := New(store, logger.New(logger.Options{ServiceName: "scheduler-test", Output: io.Discard}), config.SchedulerConfig{
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  time.Minute,
	})
	require.NoError(t, err)
	return s
}

func TestScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestScheduler(t, store)

	runAt := time.Now().Add(30 * time.Minute)
	added, err := s.Schedule(ctx, "orders", JobID("order.expire", "o1"), runAt)
	require.NoError(t, err)
	assert.True(t, added)

	// Second schedule keeps the original run time.
	added, err = s.Schedule(ctx, "orders", JobID("order.expire", "o1"), runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, float64(runAt.Unix()), store.zsets["gg:jobs:orders"]["order.expire:o1"])
}

func TestDueReturnsOnlyRipeJobs(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestScheduler(t, store)

	now := time.Now()
	_, err := s.Schedule(ctx, "orders", "order.expire:past", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "orders", "order.expire:future", now.Add(time.Hour))
	require.NoError(t, err)

	due, err := s.Due(ctx, "orders", now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"order.expire:past"}, due)
}

func TestCancelRemovesPendingJob(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestScheduler(t, store)

	_, err := s.Schedule(ctx, "orders", "order.expire:o1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	removed, err := s.Cancel(ctx, "orders", "order.expire:o1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Cancel(ctx, "orders", "order.expire:o1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFailRetriesWithBackoffThenDrops(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestScheduler(t, store)

	now := time.Now()
	_, err := s.Schedule(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)

	retried, attempts, err := s.Fail(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, float64(now.Add(5*time.Second).Unix()), store.zsets["gg:jobs:orders"]["order.expire:o1"])

	retried, attempts, err = s.Fail(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, float64(now.Add(10*time.Second).Unix()), store.zsets["gg:jobs:orders"]["order.expire:o1"])

	// Third failure hits MaxAttempts and drops the job.
	retried, attempts, err = s.Fail(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)
	assert.False(t, retried)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, store.zsets["gg:jobs:orders"])
}

func TestAckClearsJobAndAttempts(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := newTestScheduler(t, store)

	now := time.Now()
	_, err := s.Schedule(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)
	_, _, err = s.Fail(ctx, "orders", "order.expire:o1", now)
	require.NoError(t, err)

	require.NoError(t, s.Ack(ctx, "orders", "order.expire:o1"))
	assert.Empty(t, store.zsets["gg:jobs:orders"])
	assert.Empty(t, store.counters)
}

func TestBackoffCaps(t *testing.T) {
	s := newTestScheduler(t, newFakeStore())
	assert.Equal(t, 5*time.Second, s.Backoff(1))
	assert.Equal(t, 10*time.Second, s.Backoff(2))
	assert.Equal(t, 40*time.Second, s.Backoff(4))
	assert.Equal(t, time.Minute, s.Backoff(10))
}

func TestSplitJobID(t *testing.T) {
	jobType, entityID := SplitJobID("order.expire:abc:def")
	assert.Equal(t, "order.expire", jobType)
	assert.Equal(t, "abc:def", entityID)

	jobType, entityID = SplitJobID("plain")
	assert.Equal(t, "plain", jobType)
	assert.Empty(t, entityID)
}
