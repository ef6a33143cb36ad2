package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
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

func newTestStore(t testing.TB, cfg Config) (*RedisStore, *ManualClock, *miniredis.Miniredis) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	clock := NewManualClock(testEpoch)
	store, err := NewRedisStore(rdb, cfg, WithClock(clock))
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	return store, clock, mr
}

func TestReserveUsageIncreasesUpToLimit(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Second, Limit: 5, Block: 10 * time.Second})
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		res, err := store.Reserve(ctx, "counter", "")
		if err != nil {
			t.Fatalf("reserve %d: unexpected error %v", i, err)
		}
		if res.Usage != i {
			t.Fatalf("reserve %d: expected usage %d, got %d", i, i, res.Usage)
		}
		if res.Token == "" {
			t.Fatalf("reserve %d: expected token", i)
		}
		if res.Limit != 5 {
			t.Fatalf("reserve %d: expected limit 5, got %d", i, res.Limit)
		}
	}
}

func TestReserveBeyondLimitReturnsRateLimitError(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Second, Limit: 3, Block: 5 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Reserve(ctx, "counter", ""); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	res, err := store.Reserve(ctx, "counter", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	rl, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if rl.Reset <= 0 {
		t.Fatalf("expected positive reset, got %s", rl.Reset)
	}
	if rl.Limit != 3 || rl.Key != "counter" {
		t.Fatalf("unexpected error fields: %+v", rl)
	}
	if res.Token != "" {
		t.Fatalf("denied reservation must not carry a token, got %q", res.Token)
	}
}

func TestBlockLapsesAfterBlockInterval(t *testing.T) {
	store, clock, _ := newTestStore(t, Config{Window: time.Second, Limit: 10, Block: 12 * time.Second})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.Reserve(ctx, "counter", ""); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}
	if _, err := store.Reserve(ctx, "counter", ""); !IsRateLimited(err) {
		t.Fatalf("11th reserve: expected rate limit, got %v", err)
	}

	res, err := store.Check(ctx, "counter")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Reset != 12*time.Second {
		t.Fatalf("expected reset 12s, got %s", res.Reset)
	}

	clock.Advance(12003 * time.Millisecond)

	res, err = store.Check(ctx, "counter")
	if err != nil {
		t.Fatalf("check after block: %v", err)
	}
	if res.Usage != 0 || res.Reset != 0 {
		t.Fatalf("expected open counter, got usage=%d reset=%s", res.Usage, res.Reset)
	}
}

func TestBlockHoldsWhileWindowWouldSlide(t *testing.T) {
	store, clock, _ := newTestStore(t, Config{Window: time.Second, Limit: 2, Block: 10 * time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Reserve(ctx, "counter", ""); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	clock.Advance(3 * time.Second)

	_, err := store.Reserve(ctx, "counter", "")
	rl, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("expected counter to stay blocked, got %v", err)
	}
	if rl.Reset != 7*time.Second {
		t.Fatalf("expected reset 7s, got %s", rl.Reset)
	}
}

func TestWindowSlidesBeforeLimit(t *testing.T) {
	store, clock, _ := newTestStore(t, Config{Window: time.Second, Limit: 3, Block: 5 * time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Reserve(ctx, "counter", ""); err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
	}

	clock.Advance(1001 * time.Millisecond)

	res, err := store.Reserve(ctx, "counter", "")
	if err != nil {
		t.Fatalf("reserve after window: %v", err)
	}
	if res.Usage != 1 {
		t.Fatalf("expected old reservations pruned, usage=%d", res.Usage)
	}
}

func TestCheckDoesNotReserve(t *testing.T) {
	store, _, mr := newTestStore(t, Config{Window: time.Second, Limit: 2, Block: 2 * time.Second})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := store.Check(ctx, "counter")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if res.Usage != 0 || res.Token != "" {
			t.Fatalf("check must not reserve, got %+v", res)
		}
	}
	if mr.Exists("counter") {
		t.Fatal("check must not create the counter")
	}
}

func TestCancelRemovesExactlyOneReservation(t *testing.T) {
	store, _, mr := newTestStore(t, Config{Window: time.Minute, Limit: 3, Block: time.Minute})
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := store.Reserve(ctx, "counter", "")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		tokens = append(tokens, res.Token)
	}
	if _, err := store.Reserve(ctx, "counter", ""); !IsRateLimited(err) {
		t.Fatalf("expected blocked counter, got %v", err)
	}

	if err := store.Cancel(ctx, "counter", tokens[1]); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	members, err := mr.ZMembers("counter")
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 reservations after cancel, got %v", members)
	}

	res, err := store.Reserve(ctx, "counter", "")
	if err != nil {
		t.Fatalf("reserve after cancel at same instant: %v", err)
	}
	if res.Usage != 3 {
		t.Fatalf("expected usage 3, got %d", res.Usage)
	}
}

func TestCancelUnknownTokenIsNoop(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Minute, Limit: 3, Block: time.Minute})
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "counter", ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Cancel(ctx, "counter", "missing"); err != nil {
			t.Fatalf("cancel unknown token: %v", err)
		}
	}
	res, err := store.Check(ctx, "counter")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Usage != 1 {
		t.Fatalf("expected usage 1, got %d", res.Usage)
	}
}

func TestCancelRejectsEmptyToken(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Minute, Limit: 3, Block: time.Minute})
	err := store.Cancel(context.Background(), "counter", "")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCleanupEmptiesEveryKey(t *testing.T) {
	store, _, mr := newTestStore(t, Config{Window: time.Minute, Limit: 1, Block: time.Minute})
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "a", ""); err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	if _, err := store.Reserve(ctx, "a", ""); !IsRateLimited(err) {
		t.Fatalf("expected a blocked, got %v", err)
	}
	if _, err := store.Reserve(ctx, "b", ""); err != nil {
		t.Fatalf("reserve b: %v", err)
	}

	if err := store.Cleanup(ctx, "a", "b"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if mr.Exists("a") || mr.Exists("b") {
		t.Fatal("expected both counters deleted")
	}
	if _, err := store.Reserve(ctx, "a", ""); err != nil {
		t.Fatalf("reserve after cleanup: %v", err)
	}
}

func TestForeverModeOnlyCleanupReleases(t *testing.T) {
	store, clock, _ := newTestStore(t, Config{Limit: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := store.Reserve(ctx, "counter", "")
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if res.Reset != ResetNever {
			t.Fatalf("expected ResetNever, got %s", res.Reset)
		}
	}

	clock.Advance(365 * 24 * time.Hour)

	_, err := store.Reserve(ctx, "counter", "")
	rl, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("expected permanent block, got %v", err)
	}
	if !rl.Forever() {
		t.Fatalf("expected forever reset, got %s", rl.Reset)
	}

	res, err := store.Check(ctx, "counter")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Usage != 2 || res.Reset != ResetNever {
		t.Fatalf("expected usage 2 forever, got %+v", res)
	}

	if err := store.Cleanup(ctx, "counter"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := store.Reserve(ctx, "counter", ""); err != nil {
		t.Fatalf("reserve after cleanup: %v", err)
	}
}

func TestFixedWindowBlockReportsFiniteReset(t *testing.T) {
	store, clock, _ := newTestStore(t, Config{Limit: 1, Block: time.Minute})
	ctx := context.Background()

	if store.Config().Forever() {
		t.Fatal("window 0 with a block is not forever")
	}

	res, err := store.Reserve(ctx, "counter", "")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if res.Reset != time.Minute {
		t.Fatalf("expected reset 1m once exhausted, got %s", res.Reset)
	}

	clock.Advance(20 * time.Second)
	_, err = store.Reserve(ctx, "counter", "")
	rl, ok := AsRateLimit(err)
	if !ok {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if rl.Forever() || rl.Reset != 40*time.Second {
		t.Fatalf("expected finite reset of 40s, got %s (forever=%v)", rl.Reset, rl.Forever())
	}

	clock.Advance(41 * time.Second)
	if _, err := store.Reserve(ctx, "counter", ""); err != nil {
		t.Fatalf("expected block to lapse, got %v", err)
	}
}

func TestReserveRejectsDuplicateToken(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Minute, Limit: 5, Block: time.Minute})
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "counter", "tok-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_, err := store.Reserve(ctx, "counter", "tok-1")
	if !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
	if IsRateLimited(err) {
		t.Fatal("duplicate token must not look like a rate limit")
	}
}

func TestReserveRejectsReservedTokenPrefix(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Minute, Limit: 5, Block: time.Minute})
	_, err := store.Reserve(context.Background(), "counter", blockMember)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStoreFailureIsTransportError(t *testing.T) {
	store, _, mr := newTestStore(t, Config{Window: time.Minute, Limit: 5, Block: time.Minute})
	mr.Close()

	_, err := store.Reserve(context.Background(), "counter", "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if IsRateLimited(err) {
		t.Fatal("transport failure reported as rate limit")
	}
}

func TestConcurrentReserveNeverExceedsLimit(t *testing.T) {
	store, _, _ := newTestStore(t, Config{Window: time.Minute, Limit: 10, Block: time.Minute})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		denied  atomic.Int64
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Reserve(ctx, "counter", "")
			switch {
			case err == nil:
				allowed.Add(1)
			case IsRateLimited(err):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 10 || denied.Load() != 54 {
		t.Fatalf("expected 10 allowed / 54 denied, got %d / %d", allowed.Load(), denied.Load())
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"sliding", Config{Window: time.Second, Limit: 1, Block: time.Second}, true},
		{"forever", Config{Limit: 1}, true},
		{"fixed until block", Config{Limit: 1, Block: time.Hour}, true},
		{"zero limit", Config{Window: time.Second, Block: time.Second}, false},
		{"negative window", Config{Window: -time.Second, Limit: 1, Block: time.Second}, false},
		{"negative block", Config{Window: time.Second, Limit: 1, Block: -time.Second}, false},
		{"block zero with window", Config{Window: time.Second, Limit: 1}, false},
		{"block shorter than window", Config{Window: time.Minute, Limit: 1, Block: time.Second}, false},
		{"sub millisecond", Config{Window: 1500 * time.Microsecond, Limit: 1, Block: time.Second}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestNewRedisStoreRejectsInvalidConfig(t *testing.T) {
	_, rdb := newTestRedis(t)
	if _, err := NewRedisStore(rdb, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewRedisStore(nil, Config{Limit: 1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for nil client, got %v", err)
	}
}
