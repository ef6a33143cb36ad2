package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of evaluating a counter.
type Result struct {
	// Usage is the number of live reservations after the call.
	Usage int64
	// Limit is the configured ceiling.
	Limit int64
	// Token is the reservation taken by Reserve, empty otherwise.
	Token string
	// Reset is the time until the counter unblocks, 0 when it is open and
	// ResetNever when only Cleanup releases it.
	Reset time.Duration
}

// Exhausted reports whether a further reservation would be denied.
func (r Result) Exhausted() bool {
	return r.Usage >= r.Limit
}

// Store is the atomic sliding-window primitive. Each method is a single
// round trip to the backing store.
type Store interface {
	// Reserve takes one reservation on key. An empty token is replaced with a
	// random one. Exhaustion is returned as an *Error of KindRateLimited.
	Reserve(ctx context.Context, key, token string) (Result, error)
	// Check evaluates key without reserving.
	Check(ctx context.Context, key string) (Result, error)
	// Cancel removes exactly one reservation. Unknown tokens are ignored.
	Cancel(ctx context.Context, key, token string) error
	// Cleanup deletes key and every extra key.
	Cleanup(ctx context.Context, key string, extra ...string) error
	// Config returns the store's counter configuration.
	Config() Config
}

// StoreOption customizes a RedisStore.
type StoreOption func(*RedisStore)

// WithClock sets the clock used for reservation timestamps.
func WithClock(c Clock) StoreOption {
	return func(s *RedisStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(next func() string) StoreOption {
	return func(s *RedisStore) {
		if next != nil {
			s.newToken = next
		}
	}
}

// RedisStore implements [Store] with one Lua script per operation.
type RedisStore struct {
	redis    redis.UniversalClient
	config   Config
	clock    Clock
	newToken func() string
}

// NewRedisStore validates cfg and returns a store bound to redisClient.
func NewRedisStore(redisClient redis.UniversalClient, cfg Config, opts ...StoreOption) (*RedisStore, error) {
	if redisClient == nil {
		return nil, configError("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &RedisStore{
		redis:    redisClient,
		config:   cfg,
		clock:    SystemClock{},
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the counter configuration.
func (s *RedisStore) Config() Config {
	return s.config
}

func (s *RedisStore) client() redis.UniversalClient {
	return s.redis
}

// Reserve takes one reservation on key.
func (s *RedisStore) Reserve(ctx context.Context, key, token string) (Result, error) {
	if err := validateKey(key); err != nil {
		return Result{}, err
	}
	if token == "" {
		token = s.newToken()
	}
	if err := validateToken(token); err != nil {
		return Result{}, err
	}

	res, err := s.eval(ctx, key, token)
	if err != nil {
		return Result{}, err
	}
	if res.Token == "" {
		return res, &Error{
			Kind:  KindRateLimited,
			Key:   key,
			Reset: res.Reset,
			Limit: res.Limit,
		}
	}
	return res, nil
}

// Check evaluates key without taking a reservation.
func (s *RedisStore) Check(ctx context.Context, key string) (Result, error) {
	if err := validateKey(key); err != nil {
		return Result{}, err
	}
	return s.eval(ctx, key, "")
}

// Cancel removes token from key.
func (s *RedisStore) Cancel(ctx context.Context, key, token string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateToken(token); err != nil {
		return err
	}

	if err := cancelLua.Run(ctx, s.redis, []string{key}, token, s.config.Limit).Err(); err != nil {
		return transportError(key, err)
	}
	return nil
}

// Cleanup deletes key and extra in one command. On Redis Cluster all keys
// must share a hash slot.
func (s *RedisStore) Cleanup(ctx context.Context, key string, extra ...string) error {
	keys := make([]string, 0, len(extra)+1)
	keys = append(keys, key)
	keys = append(keys, extra...)
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return err
		}
	}

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return transportError(key, err)
	}
	return nil
}

func (s *RedisStore) eval(ctx context.Context, key, token string) (Result, error) {
	now := s.clock.Now().UnixMilli()

	raw, err := reserveLua.Run(ctx, s.redis,
		[]string{key},
		now,
		s.config.windowMillis(),
		s.config.Limit,
		s.config.blockMillis(),
		token,
	).Result()
	if err != nil {
		if strings.Contains(err.Error(), "duplicate_token") {
			return Result{}, &Error{Kind: KindConfig, Key: key, Err: ErrDuplicateToken}
		}
		return Result{}, transportError(key, err)
	}

	return parseResult(key, raw)
}

func parseResult(key string, raw any) (Result, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 4 {
		return Result{}, transportError(key, fmt.Errorf("unexpected script reply %T", raw))
	}

	usage, ok1 := values[0].(int64)
	limit, ok2 := values[1].(int64)
	reset, ok4 := values[3].(int64)
	if !ok1 || !ok2 || !ok4 {
		return Result{}, transportError(key, errors.New("unexpected script reply types"))
	}

	var token string
	switch v := values[2].(type) {
	case string:
		token = v
	case nil:
	default:
		return Result{}, transportError(key, fmt.Errorf("unexpected token type %T", v))
	}

	res := Result{
		Usage: usage,
		Limit: limit,
		Token: token,
		Reset: ResetNever,
	}
	if reset >= 0 {
		res.Reset = time.Duration(reset) * time.Millisecond
	}
	return res, nil
}

func validateKey(key string) error {
	if key == "" {
		return configError("counter key must not be empty")
	}
	return nil
}

func validateToken(token string) error {
	if token == "" {
		return configError("reservation token must not be empty")
	}
	if strings.HasPrefix(token, blockMember[:1]) {
		return configError("reservation token %q uses the reserved %q prefix", token, blockMember[:1])
	}
	return nil
}
