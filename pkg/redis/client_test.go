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

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if mock.ttls["tl:rate_limit:test-scope"] != time.Second || mock.expires != 1 {
		t.Fatalf("expected window ttl set on first increment, got %s after %d expires", mock.ttls["tl:rate_limit:test-scope"], mock.expires)
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if mock.expires != 1 {
		t.Fatalf("window ttl should not be reset, got %d expires", mock.expires)
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestSetNXGuardsDuplicates(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.WebhookEventKey("paystack", "evt-1")
	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if !first {
		t.Fatalf("expected first delivery to claim the key")
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if second {
		t.Fatalf("expected duplicate delivery to be rejected")
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "tl:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "tl:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.IdempotencyKey(" scope ", "  "); got != "tl:idempotency:scope" {
		t.Fatalf("blank parts should be dropped, got %s", got)
	}
	if got := client.WebhookEventKey("paystack", "evt-9"); got != "tl:webhook:paystack:evt-9" {
		t.Fatalf("unexpected webhook key %s", got)
	}
	if got := client.InteractionKey("user-1", ""); got != "tl:interaction:user-1" {
		t.Fatalf("interaction key should skip empty parts, got %s", got)
	}
	if got := client.RevokedTokenKey("jti-1"); got != "tl:revoked_token:jti-1" {
		t.Fatalf("unexpected revoked token key %s", got)
	}
	if got := client.LockKey("cron-worker:prod"); got != "tl:lock:cron-worker:prod" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.ReportKey("settlements", "202605010000", "202605080000"); got != "tl:report:settlements:202605010000:202605080000" {
		t.Fatalf("unexpected report key %s", got)
	}
}

// mockCmdable runs the package scripts natively. EvalSha only knows a
// script once Eval has loaded it, so the NOSCRIPT fallback is exercised too.
type mockCmdable struct {
	data    map[string]string
	ttls    map[string]time.Duration
	incr    map[string]int64
	loaded  map[string]string
	expires int
	shaRuns int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   make(map[string]string),
		ttls:   make(map[string]time.Duration),
		incr:   make(map[string]int64),
		loaded: make(map[string]string),
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

func (m *mockCmdable) Eval(_ context.Context, src string, keys []string, args ...any) *redis.Cmd {
	m.loaded[redis.NewScript(src).Hash()] = src
	return m.run(src, keys, args)
}

func (m *mockCmdable) EvalSha(_ context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	src, ok := m.loaded[sha]
	if !ok {
		return redis.NewCmdResult(nil, noScriptError{})
	}
	m.shaRuns++
	return m.run(src, keys, args)
}

func (m *mockCmdable) EvalRO(ctx context.Context, src string, keys []string, args ...any) *redis.Cmd {
	return m.Eval(ctx, src, keys, args...)
}

func (m *mockCmdable) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return m.EvalSha(ctx, sha, keys, args...)
}

func (m *mockCmdable) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	found := make([]bool, len(hashes))
	for i, h := range hashes {
		_, found[i] = m.loaded[h]
	}
	return redis.NewBoolSliceResult(found, nil)
}

func (m *mockCmdable) ScriptLoad(_ context.Context, src string) *redis.StringCmd {
	return redis.NewStringResult("", fmt.Errorf("ScriptLoad not supported"))
}

type noScriptError struct{}

func (noScriptError) Error() string { return "NOSCRIPT No matching script" }
func (noScriptError) RedisError()   {}

func (m *mockCmdable) run(src string, keys []string, args []any) *redis.Cmd {
	key := keys[0]
	if src == windowIncrSrc {
		m.incr[key]++
		if m.incr[key] == 1 {
			m.expires++
			m.ttls[key] = time.Duration(args[0].(int64)) * time.Millisecond
		}
		return redis.NewCmdResult(m.incr[key], nil)
	}
	if m.data[key] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch src {
	case deleteIfOwnerSrc:
		delete(m.data, key)
	case extendIfOwnerSrc:
		m.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	return redis.NewCmdResult(int64(1), nil)
}

func TestOwnerScopedLockOperations(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron-worker")

	if ok, _ := client.SetNX(ctx, key, "owner-a", time.Minute); !ok {
		t.Fatal("expected owner-a to take the key")
	}

	extended, err := client.ExtendIfOwner(ctx, key, "owner-b", time.Minute)
	if err != nil || extended {
		t.Fatalf("foreign extend should be refused, got %v %v", extended, err)
	}
	extended, err = client.ExtendIfOwner(ctx, key, "owner-a", 90*time.Second)
	if err != nil || !extended {
		t.Fatalf("owner extend failed: %v %v", extended, err)
	}
	if mock.ttls[key] != 90*time.Second {
		t.Fatalf("expected ttl reset to 90s, got %s", mock.ttls[key])
	}
	if _, err := client.ExtendIfOwner(ctx, key, "owner-a", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}

	deleted, err := client.DeleteIfOwner(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign delete should be refused, got %v %v", deleted, err)
	}
	deleted, err = client.DeleteIfOwner(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner delete failed: %v %v", deleted, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected key gone, got %v", err)
	}
}

func TestScriptsReuseLoadedSha(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for i := 0; i < 3; i++ {
		if _, err := client.IncrWithTTL(ctx, "tl:interaction:u1:message", time.Minute); err != nil {
			t.Fatalf("incr failed: %v", err)
		}
	}
	if mock.shaRuns != 2 {
		t.Fatalf("expected later runs to go through EVALSHA, got %d", mock.shaRuns)
	}
	if mock.incr["tl:interaction:u1:message"] != 3 {
		t.Fatalf("expected counter 3, got %d", mock.incr["tl:interaction:u1:message"])
	}
	if _, err := client.IncrWithTTL(ctx, "k", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	client := &Client{}
	if _, err := client.Get(context.Background(), "k"); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on unopened client: %v", err)
	}
}
