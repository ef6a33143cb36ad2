package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one goGuard counter for exporters.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one goGuard histogram for exporters.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricLoginAllowed, Name: "goguard_login_allowed_total", Help: "Logins that passed the lockout tiers and authenticated."},
	{ID: goGuard.MetricLoginLocked, Name: "goguard_login_locked_total", Help: "Logins rejected by a locked tier."},
	{ID: goGuard.MetricLoginForgiven, Name: "goguard_login_forgiven_total", Help: "Lockout counters cleared after a successful login."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Logins whose credentials were rejected."},
	{ID: goGuard.MetricChallengeAllowed, Name: "goguard_challenge_allowed_total", Help: "Challenges sent and charged."},
	{ID: goGuard.MetricChallengeLocked, Name: "goguard_challenge_locked_total", Help: "Challenges rejected by the lock tier."},
	{ID: goGuard.MetricChallengeTotalExceeded, Name: "goguard_challenge_total_exceeded_total", Help: "Challenges rejected by the global ceiling."},
	{ID: goGuard.MetricCaptchaRequired, Name: "goguard_captcha_required_total", Help: "Challenges answered with a captcha request."},
	{ID: goGuard.MetricCaptchaSolved, Name: "goguard_captcha_solved_total", Help: "Accepted captcha solutions."},
	{ID: goGuard.MetricCaptchaRejected, Name: "goguard_captcha_rejected_total", Help: "Rejected captcha solutions."},
	{ID: goGuard.MetricRateLimitHit, Name: "goguard_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: goGuard.MetricStoreError, Name: "goguard_store_error_total", Help: "Counter operations that failed on Redis or configuration."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricGuardLatency, Name: "goguard_guard_latency_seconds", Help: "Latency of guard pre-check round trips."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds, matching the
// buckets of goGuard.Metrics. The last bucket is +Inf.
var HistogramUpperBounds = []float64{
	0.00025,
	0.0005,
	0.001,
	0.0025,
	0.005,
	0.01,
	0.05,
}

// HistogramBoundSuffix names each bucket, +Inf included, in instrument names.
var HistogramBoundSuffix = []string{
	"0_00025",
	"0_0005",
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"0_05",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
