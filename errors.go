package goGuard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/guard"
	"github.com/MrEthical07/goGuard/ratelimit"
)

var (
	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrMissingClientIP is returned when ctx carries no client IP.
	ErrMissingClientIP = errors.New("client ip missing from context")
	// ErrUnknownChallenge is returned for a challenge name absent from Config.Challenges.
	ErrUnknownChallenge = errors.New("unknown challenge")
)

// Denial codes carried in Denial.Code and the JSON body written by WriteHTTP.
const (
	CodeLoginLocked     = "E_LOGIN_LOCKED"
	CodeChallengeLocked = "E_CHALLENGE_LOCKED"
	CodeChallengeTotal  = "E_CHALLENGE_TOTAL"
	CodeRateLimited     = "E_RATE_LIMITED"
	CodeCaptchaRequired = "E_CAPTCHA_REQUIRED"
	CodeCaptchaInvalid  = "E_CAPTCHA_INVALID"
)

// Denial is the client-facing form of a guard rejection.
type Denial struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter is zero when the caller should not retry on a timer: either
	// the block is indefinite or the denial is not time based.
	RetryAfter time.Duration `json:"-"`
}

// Explain maps a guard error to a Denial. It returns false for errors that
// are not denials, such as Redis failures, which callers report as 5xx.
func Explain(err error) (Denial, bool) {
	if err == nil {
		return Denial{}, false
	}

	switch {
	case errors.Is(err, guard.ErrCaptchaInvalid):
		return Denial{
			Status:  http.StatusForbidden,
			Code:    CodeCaptchaInvalid,
			Message: "The captcha solution is invalid",
		}, true
	case errors.Is(err, guard.ErrCaptchaUnavailable):
		return Denial{}, false
	}

	rl, ok := ratelimit.AsRateLimit(err)
	if !ok {
		return Denial{}, false
	}

	d := Denial{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    guard.LockedMessage(err),
		RetryAfter: retryAfter(rl),
	}
	switch {
	case errors.Is(err, guard.ErrLoginLocked):
		d.Code = CodeLoginLocked
	case errors.Is(err, guard.ErrChallengeLocked):
		d.Code = CodeChallengeLocked
		d.Message = "Too many attempts, try again later"
	case errors.Is(err, guard.ErrChallengeTotalExceeded):
		d.Code = CodeChallengeTotal
		d.Message = "The service is receiving too many requests, try again later"
	case errors.Is(err, guard.ErrCaptchaRequired):
		d.Status = http.StatusPreconditionRequired
		d.Code = CodeCaptchaRequired
		d.Message = "Captcha required"
		d.RetryAfter = 0
	}
	return d, true
}

func retryAfter(rl *ratelimit.Error) time.Duration {
	if rl.Forever() || rl.Reset <= 0 {
		return 0
	}
	return rl.Reset
}

// WriteHTTP writes the denial as a JSON body with Retry-After in whole seconds.
func (d Denial) WriteHTTP(w http.ResponseWriter) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(guard.RetryAfterSeconds(d.RetryAfter), 10))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
