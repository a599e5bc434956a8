package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "terminal:POS-01", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected first request allowed with count 1, got allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 || mock.expireCalls[0].ttl != time.Second || mock.expireCalls[0].key != "sl:rate_limit:terminal:POS-01" {
		t.Fatalf("expected expire for first increment, got %+v", mock.expireCalls)
	}

	if allowed, count, _ = client.FixedWindowAllow(ctx, "terminal:POS-01", 2, time.Second); !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	if allowed, _, _ = client.FixedWindowAllow(ctx, "terminal:POS-01", 2, time.Second); allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestFirstSeenRejectsReplays(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	first, err := client.FirstSeen(ctx, "POS-01", "abc", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first sighting, got %v err=%v", first, err)
	}
	again, err := client.FirstSeen(ctx, "POS-01", "abc", time.Minute)
	if err != nil || again {
		t.Fatalf("expected replay to be detected, got %v err=%v", again, err)
	}
	other, err := client.FirstSeen(ctx, "POS-02", "abc", time.Minute)
	if err != nil || !other {
		t.Fatalf("signatures are scoped per terminal, got %v err=%v", other, err)
	}
}

func TestLockLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.AcquireLock(ctx, "cron", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, got %v err=%v", ok, err)
	}
	if ok, _ := client.AcquireLock(ctx, "cron", "owner-b", time.Minute); ok {
		t.Fatal("second owner must not acquire a held lock")
	}

	if err := client.ReleaseLock(ctx, "cron", "owner-b"); err != nil {
		t.Fatalf("release by non owner: %v", err)
	}
	if _, held := mock.data["sl:lock:cron"]; !held {
		t.Fatal("non owner release must keep the lock")
	}

	if err := client.ReleaseLock(ctx, "cron", "owner-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := client.AcquireLock(ctx, "cron", "owner-b", time.Minute); !ok {
		t.Fatal("expected lock to be free after release")
	}

	if _, err := client.AcquireLock(ctx, "cron", " ", time.Minute); err == nil {
		t.Fatal("expected error for empty owner")
	}
}

func TestTokenRevocation(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	revoked, err := client.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected token not revoked, got %v err=%v", revoked, err)
	}
	if err := client.RevokeToken(ctx, "jti-1", time.Hour); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	revoked, err = client.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected token revoked, got %v err=%v", revoked, err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := []struct{ got, want string }{
		{client.IdempotencyKey("sales", "id"), "sl:idempotency:sales:id"},
		{client.IdempotencyKey("sales", ""), "sl:idempotency:sales"},
		{client.RateLimitKey("scope"), "sl:rate_limit:scope"},
		{client.ReplayKey("POS-01", "sig"), "sl:replay:POS-01:sig"},
		{client.LockKey("cron"), "sl:lock:cron"},
		{client.RevokedTokenKey("jti"), "sl:revoked:jti"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("unexpected key %s, want %s", tc.got, tc.want)
		}
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
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


func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// Eval emulates the two scripts the client sends.
func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script == incrScript {
		m.incr[keys[0]]++
		if m.incr[keys[0]] == 1 {
			ms, _ := args[0].(int64)
			m.expireCalls = append(m.expireCalls, expireCall{key: keys[0], ttl: time.Duration(ms) * time.Millisecond})
		}
		return redis.NewCmdResult(m.incr[keys[0]], nil)
	}
	if len(keys) == 1 && len(args) == 1 && m.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
