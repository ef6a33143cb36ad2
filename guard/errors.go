package guard

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/ratelimit"
)

var (
	// ErrLoginLocked is joined with the rate-limit error of a locked login tier.
	ErrLoginLocked = errors.New("login locked")
	// ErrChallengeTotalExceeded is joined with the global challenge ceiling error.
	ErrChallengeTotalExceeded = errors.New("challenge total exceeded")
	// ErrChallengeLocked is joined with the lock tier error.
	ErrChallengeLocked = errors.New("too many challenge attempts")
	// ErrCaptchaRequired is joined with the captcha tier error when no solution was supplied.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrCaptchaInvalid is returned when a supplied captcha solution fails verification.
	ErrCaptchaInvalid = errors.New("captcha invalid")
	// ErrCaptchaUnavailable wraps verifier transport failures.
	ErrCaptchaUnavailable = errors.New("captcha verifier unavailable")
)

// LockedMessage renders the user-facing lock notice for a rate-limit error,
// e.g. "You are locked from making attempts for the next 30 seconds".
func LockedMessage(err error) string {
	rl, ok := ratelimit.AsRateLimit(err)
	if !ok {
		return ""
	}
	if rl.Forever() {
		return "You are locked from making attempts indefinitely"
	}
	return "You are locked from making attempts for the next " + strconv.FormatInt(RetryAfterSeconds(rl.Reset), 10) + " seconds"
}

// RetryAfterSeconds rounds d up to whole seconds, never below 1.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
