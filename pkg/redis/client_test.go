package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
)

func TestIncrWithTTLStartsWindowOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{cmd: mock}

	for want := int64(1); want <= 3; want++ {
		got, err := client.IncrWithTTL(ctx, "rl:user:bids:u-1", time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d got %d", want, got)
		}
	}
	if mock.ttl["rl:user:bids:u-1"] != time.Minute {
		t.Fatalf("expected window ttl set, got %v", mock.ttl)
	}
	if mock.expires != 1 {
		t.Fatalf("expire should be applied once, got %d", mock.expires)
	}
}

func TestCompareAndDeleteOnlyRemovesOwnedKey(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{cmd: mock}
	key := client.LockKey("cron-worker", "prod")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock acquired, ok=%v err=%v", ok, err)
	}
	deleted, err := client.CompareAndDelete(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign token must not release, deleted=%v err=%v", deleted, err)
	}
	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner should release, deleted=%v err=%v", deleted, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestCompareAndExpireRenewsOnlyOwnedKey(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{cmd: mock}

	if _, err := client.SetNX(ctx, "bb:lock:cron-worker:dev", "owner-a", time.Minute); err != nil {
		t.Fatalf("setnx: %v", err)
	}
	renewed, err := client.CompareAndExpire(ctx, "bb:lock:cron-worker:dev", "owner-b", 5*time.Minute)
	if err != nil || renewed {
		t.Fatalf("foreign token must not renew, renewed=%v err=%v", renewed, err)
	}
	renewed, err = client.CompareAndExpire(ctx, "bb:lock:cron-worker:dev", "owner-a", 5*time.Minute)
	if err != nil || !renewed {
		t.Fatalf("owner should renew, renewed=%v err=%v", renewed, err)
	}
	if mock.ttl["bb:lock:cron-worker:dev"] != 5*time.Minute {
		t.Fatalf("unexpected ttl %v", mock.ttl)
	}
}

func TestIdempotencyClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	client := &Client{cmd: newMockCmdable()}
	key := client.IdempotencyKey("notifications-worker", "event-1")

	claimed, err := client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win, claimed=%v err=%v", claimed, err)
	}
	claimed, err = client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || claimed {
		t.Fatalf("expected duplicate claim to lose, claimed=%v err=%v", claimed, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestUninitializedClientFails(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err != errNotInitialized {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if _, err := client.IncrWithTTL(context.Background(), "k", time.Second); err != errNotInitialized {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close of empty client should be a no-op: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "bb:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.IdempotencyKey(" evt:analytics ", ""); got != "bb:idempotency:evt:analytics" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
	if got := client.LockKey("cron-worker", "prod"); got != "bb:lock:cron-worker:prod" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("cron-worker", ""); got != "bb:lock:cron-worker:local" {
		t.Fatalf("env-less lock key should default to local, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache:6380/2",
		DB:          5,
		PoolSize:    7,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "secret" {
		t.Fatalf("url settings not applied: %+v", opts)
	}
	if opts.DB != 2 {
		t.Fatalf("url database should win, got %d", opts.DB)
	}
	if opts.PoolSize != 7 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("discrete settings should fill gaps: pool=%d dial=%v", opts.PoolSize, opts.DialTimeout)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 1})
	if err != nil || opts.Addr != "localhost:6379" || opts.DB != 1 {
		t.Fatalf("address config not applied: %+v err=%v", opts, err)
	}
}

// mockCmdable emulates the commands and the Lua scripts the client runs.
type mockCmdable struct {
	data    map[string]string
	counts  map[string]int64
	ttl     map[string]time.Duration
	expires int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   map[string]string{},
		counts: map[string]int64{},
		ttl:    map[string]time.Duration{},
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) EvalSha(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	switch sha {
	case incrWithTTL.Hash():
		m.counts[keys[0]]++
		n := m.counts[keys[0]]
		if ms, _ := args[0].(int64); n == 1 && ms > 0 {
			m.ttl[keys[0]] = time.Duration(ms) * time.Millisecond
			m.expires++
		}
		return redis.NewCmdResult(n, nil)
	case compareAndExpire.Hash():
		if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
			m.ttl[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case compareAndDelete.Hash():
		if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
			delete(m.data, keys[0])
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("NOSCRIPT unknown script %s", sha))
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected EVAL"))
}

func (m *mockCmdable) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.Eval(ctx, script, keys, args...)
}

func (m *mockCmdable) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return m.EvalSha(ctx, sha, keys, args...)
}

func (m *mockCmdable) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (m *mockCmdable) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}
