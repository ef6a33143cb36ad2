package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one guard counter.
type MetricID uint16

const (
	// MetricLoginAllowed counts logins that passed the lockout tiers and authenticated.
	MetricLoginAllowed MetricID = iota
	// MetricLoginLocked counts logins rejected by a locked tier.
	MetricLoginLocked
	// MetricLoginForgiven counts successful forgiveness cleanups.
	MetricLoginForgiven
	// MetricLoginFailure counts logins whose authenticate callback failed.
	MetricLoginFailure
	// MetricChallengeAllowed counts challenges that ran and were charged.
	MetricChallengeAllowed
	// MetricChallengeLocked counts challenges rejected by the lock tier.
	MetricChallengeLocked
	// MetricChallengeTotalExceeded counts challenges rejected by the total tier.
	MetricChallengeTotalExceeded
	// MetricCaptchaRequired counts challenges asked for a captcha.
	MetricCaptchaRequired
	// MetricCaptchaSolved counts accepted captcha solutions.
	MetricCaptchaSolved
	// MetricCaptchaRejected counts rejected captcha solutions.
	MetricCaptchaRejected
	// MetricRateLimitHit counts every rate-limit denial, whatever the guard.
	MetricRateLimitHit
	// MetricStoreError counts Redis and configuration failures.
	MetricStoreError
	// MetricGuardLatency is the latency histogram of guard round trips.
	MetricGuardLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds the counters for cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricGuardLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricGuardLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricGuardLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricGuardLatency].buckets[i])
		}
		s.Histograms[MetricGuardLatency] = buckets
	}

	return s
}

// Guard round trips are single Redis scripts, so the buckets sit lower than
// a request-level histogram would.
func bucketIndex(d time.Duration) int {
	us := d.Microseconds()

	switch {
	case us <= 250:
		return 0
	case us <= 500:
		return 1
	case us <= 1000:
		return 2
	case us <= 2500:
		return 3
	case us <= 5000:
		return 4
	case us <= 10000:
		return 5
	case us <= 50000:
		return 6
	default:
		return 7
	}
}
