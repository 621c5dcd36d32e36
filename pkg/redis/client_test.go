package redis

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	zsets       map[string]map[string]float64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:  make(map[string]string),
		incr:  make(map[string]int64),
		zsets: make(map[string]map[string]float64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) ZAddNX(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	var added int64
	for _, member := range members {
		name := fmt.Sprint(member.Member)
		if _, exists := set[name]; exists {
			continue
		}
		set[name] = member.Score
		added++
	}
	return redis.NewIntResult(added, nil)
}

func (m *mockCmdable) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	for _, member := range members {
		set[fmt.Sprint(member.Member)] = member.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (m *mockCmdable) ZRangeByScore(ctx context.Context, key string, by *redis.ZRangeBy) *redis.StringSliceCmd {
	set := m.zsets[key]
	var max float64
	fmt.Sscanf(by.Max, "%f", &max)
	members := make([]string, 0, len(set))
	for member, score := range set {
		if score <= max {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i, j int) bool { return set[members[i]] < set[members[j]] })
	if by.Count > 0 && int64(len(members)) > by.Count {
		members = members[:by.Count]
	}
	return redis.NewStringSliceResult(members, nil)
}

func (m *mockCmdable) ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	set := m.zsets[key]
	var removed int64
	for _, member := range members {
		name := fmt.Sprint(member)
		if _, ok := set[name]; ok {
			delete(set, name)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestZAddNXIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	added, err := client.ZAddNX(ctx, "gg:jobs:orders", "order.expire:abc", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}

	added, err = client.ZAddNX(ctx, "gg:jobs:orders", "order.expire:abc", 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatal("duplicate job id should not be re-added")
	}
}

func TestZRangeByScoreReturnsDueMembersInOrder(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for member, score := range map[string]float64{
		"late":    300,
		"due-one": 50,
		"due-two": 100,
	} {
		if _, err := client.ZAddNX(ctx, "gg:jobs:test", member, score); err != nil {
			t.Fatalf("seed member %s: %v", member, err)
		}
	}

	due, err := client.ZRangeByScore(ctx, "gg:jobs:test", 150, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 2 || due[0] != "due-one" || due[1] != "due-two" {
		t.Fatalf("unexpected due members: %v", due)
	}
}

func TestZRemReportsPresence(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if _, err := client.ZAddNX(ctx, "gg:jobs:test", "member", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	removed, err := client.ZRem(ctx, "gg:jobs:test", "member")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Fatal("expected member removal")
	}
	removed, err = client.ZRem(ctx, "gg:jobs:test", "member")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Fatal("second removal should report absence")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.JobQueueKey("orders"); got != "gg:jobs:orders" {
		t.Fatalf("unexpected job queue key %q", got)
	}
	if got := client.IdempotencyKey("webhook", "abc"); got != "gg:idempotency:webhook:abc" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
}
