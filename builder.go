package goGuard

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goGuard/guard"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder builds at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	clock     ratelimit.Clock
	logger    *slog.Logger
	auditSink AuditSink
	verifier  guard.Verifier

	built bool
}

// New returns a Builder preset with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client every counter runs on. Cluster and sentinel
// clients work: each script touches a single key, and the two counters a
// forgiveness deletes share the client IP as hash tag.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClock injects the time source of every counter.
func (b *Builder) WithClock(c ratelimit.Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the logger for failures that do not fail a request.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCaptchaVerifier replaces the JWT verifier built from Config.Captcha.
func (b *Builder) WithCaptchaVerifier(v guard.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the guard latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs every guard.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	verifier := b.verifier
	if verifier == nil && len(cfg.Challenges) > 0 {
		secret := cfg.Captcha.secret()
		if len(secret) == 0 {
			return nil, errors.New("Captcha Secret or WithCaptchaVerifier required when challenges are configured")
		}
		jv, err := guard.NewJWTVerifier(guard.JWTVerifierConfig{
			Secret:      secret,
			Issuer:      cfg.Captcha.Issuer,
			Audience:    cfg.Captcha.Audience,
			BindSubject: cfg.Captcha.BindSubject,
			Leeway:      cfg.Captcha.Leeway,
		}, clock)
		if err != nil {
			return nil, err
		}
		verifier = jv
	}

	opts := []guard.Option{
		guard.WithClock(clock),
		guard.WithPrefix(cfg.Prefix),
		guard.WithLogger(logger),
	}

	// -------- LOGIN GUARD --------
	login, err := guard.NewLoginGuard(b.redis, cfg.Login, opts...)
	if err != nil {
		return nil, err
	}

	// -------- CHALLENGE GUARDS --------
	challenges := make(map[string]*guard.ChallengeGuard, len(cfg.Challenges))
	for name, chCfg := range cfg.Challenges {
		g, err := guard.NewChallengeGuard(b.redis, name, chCfg, verifier, opts...)
		if err != nil {
			return nil, err
		}
		challenges[name] = g
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		login:      login,
		challenges: challenges,
		clock:      clock,
		logger:     logger,
		metrics:    NewMetrics(cfg.Metrics),
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
