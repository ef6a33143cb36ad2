package goGuard

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/goGuard/guard"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/ratelimit"
)

const (
	auditEventLoginLocked            = "login_locked"
	auditEventLoginForgiven          = "login_forgiven"
	auditEventLoginFailure           = "login_failure"
	auditEventChallengeLocked        = "challenge_locked"
	auditEventChallengeTotalExceeded = "challenge_total_exceeded"
	auditEventCaptchaRequired        = "captcha_required"
	auditEventCaptchaRejected        = "captcha_rejected"
	auditEventChallengeSent          = "challenge_sent"
)

// Engine wires the login guard and the named challenge guards to metrics,
// audit and logging.
type Engine struct {
	config     Config
	login      *guard.LoginGuard
	challenges map[string]*guard.ChallengeGuard
	clock      ratelimit.Clock
	logger     *slog.Logger
	audit      *audit.Dispatcher
	metrics    *Metrics
}

// Close drains pending audit events. It waits at most five seconds.
func (e *Engine) Close() {
	if e == nil || e.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.audit.Close(ctx); err != nil {
		e.logger.Warn("audit drain incomplete", "component", "goguard", "error", err)
	}
}

// AuditDropped returns the number of audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Challenges lists the configured challenge names in sorted order.
func (e *Engine) Challenges() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.challenges))
	for name := range e.challenges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoginGuard exposes the underlying login guard for callers that need the
// individual tier operations.
func (e *Engine) LoginGuard() *guard.LoginGuard {
	if e == nil {
		return nil
	}
	return e.login
}

// Login charges one attempt for identifier from the client IP in ctx, runs
// authenticate only when no tier is locked, and forgives on success.
func (e *Engine) Login(ctx context.Context, identifier string, authenticate func(context.Context) error) error {
	if e == nil || e.login == nil {
		return ErrEngineNotReady
	}
	ip := ClientIPFromContext(ctx)
	if ip == "" {
		return ErrMissingClientIP
	}

	start := time.Now()
	err := e.login.Attempt(ctx, identifier, ip)
	e.metrics.Observe(MetricGuardLatency, time.Since(start))
	if err != nil {
		if ratelimit.IsRateLimited(err) {
			e.metricInc(MetricLoginLocked)
			e.metricInc(MetricRateLimitHit)
			e.emitAudit(ctx, auditEventLoginLocked, "login", "", ip, false, err, nil)
		} else {
			e.metricInc(MetricStoreError)
		}
		return err
	}

	if err := authenticate(ctx); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, "login", "", ip, false, err, nil)
		return err
	}
	e.metricInc(MetricLoginAllowed)

	if err := e.login.Forgive(ctx, identifier, ip); err != nil {
		e.metricInc(MetricStoreError)
		e.logger.WarnContext(ctx, "login limiter forgiveness failed",
			"component", "goguard",
			"ip", ip,
			"error", err,
		)
		return nil
	}
	e.metricInc(MetricLoginForgiven)
	e.emitAudit(ctx, auditEventLoginForgiven, "login", "", ip, true, nil, func() map[string]string {
		if e.config.Login.ForgiveIP {
			return map[string]string{"scope": "user_ip+ip"}
		}
		return map[string]string{"scope": "user_ip"}
	})
	return nil
}

// Challenge runs send for key under the named challenge guard. The captcha
// solution may be empty. send runs only when every pre-check passes, and the
// tiers are charged only when send returns nil.
func (e *Engine) Challenge(ctx context.Context, name, key, captchaSolution string, send func(context.Context) error) error {
	if e == nil {
		return ErrEngineNotReady
	}
	g, ok := e.challenges[name]
	if !ok {
		return ErrUnknownChallenge
	}
	ip := ClientIPFromContext(ctx)
	if ip == "" {
		return ErrMissingClientIP
	}
	ch := guard.Challenge{Key: key, IP: ip, CaptchaSolution: captchaSolution}

	start := time.Now()
	decision, err := g.Check(ctx, ch)
	e.metrics.Observe(MetricGuardLatency, time.Since(start))
	if err != nil {
		e.recordChallengeDenial(ctx, name, key, ip, err)
		return err
	}
	if decision.CaptchaSolved {
		e.metricInc(MetricCaptchaSolved)
	}

	if err := send(ctx); err != nil {
		return err
	}

	if err := g.Reserve(ctx, ch); err != nil {
		e.metricInc(MetricStoreError)
		e.logger.WarnContext(ctx, "challenge charge failed",
			"component", "goguard",
			"challenge", name,
			"ip", ip,
			"error", err,
		)
		return err
	}
	e.metricInc(MetricChallengeAllowed)
	e.emitAudit(ctx, auditEventChallengeSent, name, key, ip, true, nil, func() map[string]string {
		return map[string]string{"captcha_solved": strconv.FormatBool(decision.CaptchaSolved)}
	})
	return nil
}

// ForgiveChallenge clears the lock and captcha tiers of the named challenge
// for key and the client IP in ctx, e.g. after the challenge was answered.
func (e *Engine) ForgiveChallenge(ctx context.Context, name, key string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	g, ok := e.challenges[name]
	if !ok {
		return ErrUnknownChallenge
	}
	ip := ClientIPFromContext(ctx)
	if ip == "" {
		return ErrMissingClientIP
	}
	if err := g.Cleanup(ctx, guard.Challenge{Key: key, IP: ip}); err != nil {
		e.metricInc(MetricStoreError)
		return err
	}
	return nil
}

func (e *Engine) recordChallengeDenial(ctx context.Context, name, key, ip string, err error) {
	var event string
	switch {
	case errors.Is(err, guard.ErrChallengeTotalExceeded):
		e.metricInc(MetricChallengeTotalExceeded)
		event = auditEventChallengeTotalExceeded
	case errors.Is(err, guard.ErrChallengeLocked):
		e.metricInc(MetricChallengeLocked)
		event = auditEventChallengeLocked
	case errors.Is(err, guard.ErrCaptchaRequired):
		e.metricInc(MetricCaptchaRequired)
		event = auditEventCaptchaRequired
	case errors.Is(err, guard.ErrCaptchaInvalid):
		e.metricInc(MetricCaptchaRejected)
		event = auditEventCaptchaRejected
	default:
		e.metricInc(MetricStoreError)
		return
	}
	if ratelimit.IsRateLimited(err) {
		e.metricInc(MetricRateLimitHit)
	}
	e.emitAudit(ctx, event, name, key, ip, false, err, nil)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	guardName string,
	subject string,
	ip string,
	allowed bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		Guard:     guardName,
		Subject:   subject,
		IP:        ip,
		Allowed:   allowed,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = auditErrorCode(err)
		if rl, ok := ratelimit.AsRateLimit(err); ok {
			event.Reset = rl.Reset
		}
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) string {
	if d, ok := Explain(err); ok {
		return d.Code
	}
	switch {
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, guard.ErrCaptchaUnavailable):
		return "captcha_unavailable"
	default:
		return "failed"
	}
}
