package guard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

var errBadPassword = errors.New("bad password")

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testLoginConfig() LoginConfig {
	return LoginConfig{
		IP:     ratelimit.Config{Window: time.Hour, Limit: 5, Block: time.Hour},
		UserIP: ratelimit.Config{Window: time.Hour, Limit: 3, Block: time.Hour},
	}
}

func newTestLoginGuard(t *testing.T, cfg LoginConfig) (*LoginGuard, *ratelimit.ManualClock, *miniredis.Miniredis) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	clock := ratelimit.NewManualClock(testEpoch)
	g, err := NewLoginGuard(rdb, cfg, WithClock(clock))
	if err != nil {
		t.Fatalf("NewLoginGuard failed: %v", err)
	}
	return g, clock, mr
}

func failAuth(context.Context) error { return errBadPassword }
func passAuth(context.Context) error { return nil }

func TestLoginGuardLocksIPAcrossUsernames(t *testing.T) {
	g, _, _ := newTestLoginGuard(t, testLoginConfig())
	ctx := context.Background()

	users := []string{"a", "b", "c", "d", "e"}
	for _, u := range users {
		if err := g.Protect(ctx, u, "10.0.0.1", failAuth); !errors.Is(err, errBadPassword) {
			t.Fatalf("user %s: expected authentication failure, got %v", u, err)
		}
	}

	called := false
	err := g.Protect(ctx, "f", "10.0.0.1", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrLoginLocked) || !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("expected locked login, got %v", err)
	}
	if called {
		t.Fatalf("authenticate must not run while locked")
	}
	if msg := LockedMessage(err); msg != "You are locked from making attempts for the next 3600 seconds" {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := g.Protect(ctx, "a", "10.0.0.2", passAuth); err != nil {
		t.Fatalf("other IP must be unaffected: %v", err)
	}
}

func TestLoginGuardLocksUserIPBeforeIP(t *testing.T) {
	g, _, _ := newTestLoginGuard(t, testLoginConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.Protect(ctx, "alice", "10.0.0.1", failAuth); !errors.Is(err, errBadPassword) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	err := g.Protect(ctx, "alice", "10.0.0.1", passAuth)
	rl, ok := ratelimit.AsRateLimit(err)
	if !ok || !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("expected user-ip lock, got %v", err)
	}
	if rl.Limiter != "login-key-ip" {
		t.Fatalf("expected key-ip dimension, got %q", rl.Limiter)
	}

	if err := g.Protect(ctx, "bob", "10.0.0.1", passAuth); err != nil {
		t.Fatalf("other user from same IP should pass, got %v", err)
	}
}

func TestLoginGuardSuccessForgivesBothTiers(t *testing.T) {
	cfg := testLoginConfig()
	cfg.ForgiveIP = true
	g, _, _ := newTestLoginGuard(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = g.Protect(ctx, "alice", "10.0.0.1", failAuth)
	}
	_ = g.Protect(ctx, "bob", "10.0.0.1", failAuth)
	if err := g.Protect(ctx, "alice", "10.0.0.1", passAuth); err != nil {
		t.Fatalf("login: %v", err)
	}

	ipRes, err := g.limiter.ByIP().Check(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("check ip: %v", err)
	}
	if ipRes.Usage != 0 {
		t.Fatalf("expected ip tier cleared, got usage %d", ipRes.Usage)
	}
	userRes, err := g.limiter.ByKeyIP().Check(ctx, "alice", "10.0.0.1")
	if err != nil {
		t.Fatalf("check user-ip: %v", err)
	}
	if userRes.Usage != 0 {
		t.Fatalf("expected user-ip tier cleared, got usage %d", userRes.Usage)
	}
}

func TestLoginGuardSuccessKeepsIPTierWithoutForgiveIP(t *testing.T) {
	g, _, _ := newTestLoginGuard(t, testLoginConfig())
	ctx := context.Background()

	_ = g.Protect(ctx, "alice", "10.0.0.1", failAuth)
	if err := g.Protect(ctx, "alice", "10.0.0.1", passAuth); err != nil {
		t.Fatalf("login: %v", err)
	}

	ipRes, err := g.limiter.ByIP().Check(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("check ip: %v", err)
	}
	if ipRes.Usage != 2 {
		t.Fatalf("expected ip tier usage 2, got %d", ipRes.Usage)
	}
	userRes, _ := g.limiter.ByKeyIP().Check(ctx, "alice", "10.0.0.1")
	if userRes.Usage != 0 {
		t.Fatalf("expected user-ip tier cleared, got usage %d", userRes.Usage)
	}
}

func TestLoginGuardUnlocksAfterBlock(t *testing.T) {
	cfg := testLoginConfig()
	cfg.UserIP = ratelimit.Config{Window: time.Minute, Limit: 1, Block: 10 * time.Minute}
	g, clock, _ := newTestLoginGuard(t, cfg)
	ctx := context.Background()

	_ = g.Protect(ctx, "alice", "10.0.0.1", failAuth)
	if err := g.Protect(ctx, "alice", "10.0.0.1", passAuth); !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("expected lock, got %v", err)
	}

	clock.Advance(5 * time.Minute)
	if err := g.Attempt(ctx, "alice", "10.0.0.1"); !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("expected lock to hold past the window, got %v", err)
	}

	clock.Advance(5*time.Minute + time.Millisecond)
	if err := g.Protect(ctx, "alice", "10.0.0.1", passAuth); err != nil {
		t.Fatalf("expected unlock after block, got %v", err)
	}
}

func TestLoginGuardHashesIdentifiers(t *testing.T) {
	cfg := testLoginConfig()
	cfg.HashIdentifiers = true
	cfg.IdentifierKey = []byte("pepper")
	g, _, mr := newTestLoginGuard(t, cfg)
	ctx := context.Background()

	if err := g.Attempt(ctx, "alice@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	for _, key := range mr.Keys() {
		if strings.Contains(key, "alice") {
			t.Fatalf("raw identifier leaked into key %q", key)
		}
	}
	if g.identifier("alice@example.com") != g.identifier("alice@example.com") {
		t.Fatalf("identifier hashing must be deterministic")
	}
	if g.identifier("alice@example.com") == g.identifier("bob@example.com") {
		t.Fatalf("distinct identifiers must not collide")
	}
}

func TestLoginGuardStoreFailureIsNotALock(t *testing.T) {
	g, _, mr := newTestLoginGuard(t, testLoginConfig())
	mr.Close()

	err := g.Protect(context.Background(), "alice", "10.0.0.1", passAuth)
	if !errors.Is(err, ratelimit.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrLoginLocked) {
		t.Fatalf("transport failure must not look like a lock")
	}
}

func TestLoginConfigValidate(t *testing.T) {
	cfg := testLoginConfig()
	cfg.UserIP.Limit = 0
	if err := cfg.Validate(); !errors.Is(err, ratelimit.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = testLoginConfig()
	cfg.IdentifierKey = make([]byte, 65)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected oversized identifier key to fail")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int64{
		0:                       1,
		time.Millisecond:        1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		time.Minute:             60,
	}
	for in, want := range cases {
		if got := RetryAfterSeconds(in); got != want {
			t.Fatalf("RetryAfterSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}
