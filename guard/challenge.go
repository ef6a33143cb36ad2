package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/redis/go-redis/v9"
)

// totalPart addresses the single counter of the total tier.
const totalPart = "global"

// ChallengeConfig configures the three challenge tiers.
type ChallengeConfig struct {
	// Total is one counter shared by every caller.
	Total TierConfig `yaml:"total"`
	// Lock hard-stops a key+IP pair (and the IP alone) after too many attempts.
	Lock TierConfig `yaml:"lock"`
	// Captcha is stricter than Lock; exhausting it asks for a captcha instead
	// of refusing.
	Captcha TierConfig `yaml:"captcha"`
}

// Validate checks all three tiers.
func (c ChallengeConfig) Validate() error {
	if err := c.Total.Validate(); err != nil {
		return fmt.Errorf("challenge total tier: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("challenge lock tier: %w", err)
	}
	if err := c.Captcha.Validate(); err != nil {
		return fmt.Errorf("challenge captcha tier: %w", err)
	}
	return nil
}

// Challenge identifies one challenge request.
type Challenge struct {
	// Key is what the challenge is sent to, e.g. a phone number.
	Key string
	// IP is the remote address of the caller.
	IP string
	// CaptchaSolution is the captcha token supplied with the request, if any.
	CaptchaSolution string
}

// Decision reports how the pre-checks were passed.
type Decision struct {
	// CaptchaSolved is true when a captcha solution was verified and the
	// captcha tier pre-check was skipped.
	CaptchaSolved bool
}

// ChallengeGuard throttles actions that send paid or limited challenges.
type ChallengeGuard struct {
	name     string
	total    *ratelimit.Limiter
	lock     *ratelimit.IPKeyLimiter
	captcha  *ratelimit.IPKeyLimiter
	config   ChallengeConfig
	verifier Verifier
	opts     options
}

// NewChallengeGuard builds the tiers "<name>-total", "<name>-lock-*" and
// "<name>-captcha-*" over redisClient.
func NewChallengeGuard(redisClient redis.UniversalClient, name string, cfg ChallengeConfig, verifier Verifier, opts ...Option) (*ChallengeGuard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, errors.New("challenge guard requires a captcha verifier")
	}
	o := buildOptions(opts)

	totalStore, err := ratelimit.NewRedisStore(redisClient, cfg.Total.Config, o.storeOptions()...)
	if err != nil {
		return nil, err
	}
	lockStore, err := ratelimit.NewRedisStore(redisClient, cfg.Lock.Config, o.storeOptions()...)
	if err != nil {
		return nil, err
	}
	captchaStore, err := ratelimit.NewRedisStore(redisClient, cfg.Captcha.Config, o.storeOptions()...)
	if err != nil {
		return nil, err
	}

	total, err := ratelimit.NewLimiter(name+"-total", totalStore, o.limiterOptions()...)
	if err != nil {
		return nil, err
	}
	lock, err := ratelimit.NewIPKeyLimiter(name+"-lock", lockStore, lockStore, o.limiterOptions()...)
	if err != nil {
		return nil, err
	}
	captcha, err := ratelimit.NewIPKeyLimiter(name+"-captcha", captchaStore, captchaStore, o.limiterOptions()...)
	if err != nil {
		return nil, err
	}

	return &ChallengeGuard{
		name:     name,
		total:    total,
		lock:     lock,
		captcha:  captcha,
		config:   cfg,
		verifier: verifier,
		opts:     o,
	}, nil
}

// Name returns the guard name.
func (g *ChallengeGuard) Name() string { return g.name }

// Check runs the pre-phase: total tier, lock tier, then either captcha
// verification or the captcha tier. ChargeOnAttempt tiers reserve here.
func (g *ChallengeGuard) Check(ctx context.Context, ch Challenge) (Decision, error) {
	var d Decision

	if err := g.preTotal(ctx); err != nil {
		return d, joinRate(ErrChallengeTotalExceeded, err)
	}
	if err := g.preComposite(ctx, g.lock, g.config.Lock.Policy, ch); err != nil {
		return d, joinRate(ErrChallengeLocked, err)
	}

	if ch.CaptchaSolution != "" {
		ok, err := g.verifier.Verify(ctx, ch.CaptchaSolution, ch.Key, ch.IP)
		if err != nil {
			return d, fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
		}
		if !ok {
			return d, ErrCaptchaInvalid
		}
		d.CaptchaSolved = true
		if g.config.Captcha.Policy == ChargeOnAttempt {
			if _, err := g.captcha.Reserve(ctx, ch.Key, ch.IP); err != nil && !ratelimit.IsRateLimited(err) {
				return d, err
			}
		}
		return d, nil
	}

	if err := g.preComposite(ctx, g.captcha, g.config.Captcha.Policy, ch); err != nil {
		return d, joinRate(ErrCaptchaRequired, err)
	}
	return d, nil
}

// Reserve runs the post-phase: every ChargeOnSuccess tier is charged.
// Rate-limit denials are tolerated at this point; any other error is returned.
func (g *ChallengeGuard) Reserve(ctx context.Context, ch Challenge) error {
	var errs []error

	if g.config.Total.Policy == ChargeOnSuccess {
		if _, err := g.total.Reserve(ctx, totalPart); err != nil && !ratelimit.IsRateLimited(err) {
			errs = append(errs, err)
		}
	}
	if g.config.Lock.Policy == ChargeOnSuccess {
		if _, err := g.lock.Reserve(ctx, ch.Key, ch.IP); err != nil && !ratelimit.IsRateLimited(err) {
			errs = append(errs, err)
		}
	}
	if g.config.Captcha.Policy == ChargeOnSuccess {
		if _, err := g.captcha.Reserve(ctx, ch.Key, ch.IP); err != nil && !ratelimit.IsRateLimited(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run checks, runs action and charges when action succeeds.
func (g *ChallengeGuard) Run(ctx context.Context, ch Challenge, action func(context.Context) error) error {
	if _, err := g.Check(ctx, ch); err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		return err
	}
	return g.Reserve(ctx, ch)
}

// Cleanup forgives the lock and captcha tiers for ch.
func (g *ChallengeGuard) Cleanup(ctx context.Context, ch Challenge) error {
	if err := g.lock.Cleanup(ctx, ch.Key, ch.IP); err != nil {
		return err
	}
	return g.captcha.Cleanup(ctx, ch.Key, ch.IP)
}

func (g *ChallengeGuard) preTotal(ctx context.Context) error {
	if g.config.Total.Policy == ChargeOnAttempt {
		_, err := g.total.Reserve(ctx, totalPart)
		return err
	}
	return g.total.CheckErr(ctx, totalPart)
}

func (g *ChallengeGuard) preComposite(ctx context.Context, l *ratelimit.IPKeyLimiter, policy ChargePolicy, ch Challenge) error {
	if policy == ChargeOnAttempt {
		_, err := l.Reserve(ctx, ch.Key, ch.IP)
		return err
	}
	return l.Check(ctx, ch.Key, ch.IP)
}

func joinRate(sentinel, err error) error {
	if !ratelimit.IsRateLimited(err) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
