package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrRateLimited matches every error whose Kind is KindRateLimited.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidConfig matches limiter configuration and key composition errors.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
	// ErrStoreUnavailable matches transport and script failures against the store.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	// ErrDuplicateToken is returned when Reserve is given a token already held by the counter.
	ErrDuplicateToken = errors.New("reservation token already exists")
)

// Kind classifies an [Error].
type Kind uint8

const (
	// KindRateLimited is an expected, recoverable denial.
	KindRateLimited Kind = iota + 1
	// KindConfig is an invalid limiter configuration or key.
	KindConfig
	// KindTransport is a failure talking to the backing store.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ResetNever is reported as Reset by counters that only Cleanup can release.
const ResetNever time.Duration = -1

// Error is the single error type produced by stores and limiters.
// Rate-limit denials carry the composed key, the configured limit and the
// time until the counter unblocks.
type Error struct {
	Kind    Kind
	Limiter string
	Key     string
	Reset   time.Duration
	Limit   int64
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRateLimited:
		msg := "rate limited: " + e.Key + " limit " + strconv.FormatInt(e.Limit, 10)
		if e.Reset == ResetNever {
			return msg + ", reset never"
		}
		return msg + ", reset in " + e.Reset.String()
	case KindConfig:
		if e.Err != nil {
			return ErrInvalidConfig.Error() + ": " + e.Err.Error()
		}
		return ErrInvalidConfig.Error()
	default:
		if e.Err != nil {
			return ErrStoreUnavailable.Error() + ": " + e.Err.Error()
		}
		return ErrStoreUnavailable.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrInvalidConfig:
		return e.Kind == KindConfig
	case ErrStoreUnavailable:
		return e.Kind == KindTransport
	}
	return false
}

// Forever reports whether the denial can only be lifted by Cleanup.
func (e *Error) Forever() bool { return e.Reset == ResetNever }

// AsRateLimit extracts the rate-limit denial from err, if any.
func AsRateLimit(err error) (*Error, bool) {
	var rl *Error
	if errors.As(err, &rl) && rl.Kind == KindRateLimited {
		return rl, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a rate-limit denial from a single or
// composite limiter.
func IsRateLimited(err error) bool {
	_, ok := AsRateLimit(err)
	return ok
}

func configError(format string, args ...any) error {
	return &Error{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

func transportError(key string, err error) error {
	return &Error{Kind: KindTransport, Key: key, Err: err}
}
