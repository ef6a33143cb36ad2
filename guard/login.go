package guard

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// LoginConfig configures the two login lockout tiers.
type LoginConfig struct {
	// IP counts every attempt from one remote address, whatever the username.
	IP ratelimit.Config `yaml:"ip"`
	// UserIP counts attempts for one username from one remote address.
	UserIP ratelimit.Config `yaml:"user_ip"`
	// ForgiveIP clears the IP tier, not only the user+IP tier, after a
	// successful login.
	ForgiveIP bool `yaml:"forgive_ip"`
	// HashIdentifiers stores BLAKE2b digests of usernames instead of the raw
	// values in counter keys.
	HashIdentifiers bool `yaml:"hash_identifiers"`
	// IdentifierKey keys the BLAKE2b digest. Optional, at most 64 bytes.
	IdentifierKey []byte `yaml:"-"`
}

// Validate checks both tiers.
func (c LoginConfig) Validate() error {
	if err := c.IP.Validate(); err != nil {
		return fmt.Errorf("login ip tier: %w", err)
	}
	if err := c.UserIP.Validate(); err != nil {
		return fmt.Errorf("login user-ip tier: %w", err)
	}
	if len(c.IdentifierKey) > blake2b.Size {
		return fmt.Errorf("login identifier key must be <= %d bytes", blake2b.Size)
	}
	return nil
}

// LoginGuard protects credential verification from brute force. Each attempt
// is charged on a global-IP counter and a user+IP counter before the password
// is looked at; a successful login forgives them.
type LoginGuard struct {
	limiter *ratelimit.IPKeyLimiter
	config  LoginConfig
	opts    options
}

// NewLoginGuard builds both tiers over redisClient.
func NewLoginGuard(redisClient redis.UniversalClient, cfg LoginConfig, opts ...Option) (*LoginGuard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	ipStore, err := ratelimit.NewRedisStore(redisClient, cfg.IP, o.storeOptions()...)
	if err != nil {
		return nil, err
	}
	userIPStore, err := ratelimit.NewRedisStore(redisClient, cfg.UserIP, o.storeOptions()...)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewIPKeyLimiter("login", ipStore, userIPStore, o.limiterOptions()...)
	if err != nil {
		return nil, err
	}

	return &LoginGuard{limiter: limiter, config: cfg, opts: o}, nil
}

// ReserveForIP charges one attempt to the global-IP tier.
func (g *LoginGuard) ReserveForIP(ctx context.Context, ip string) (ratelimit.Result, error) {
	res, err := g.limiter.ByIP().Reserve(ctx, ip)
	return res, lockedErr(err)
}

// ReserveForUserIP charges one attempt to the user+IP tier.
func (g *LoginGuard) ReserveForUserIP(ctx context.Context, user, ip string) (ratelimit.Result, error) {
	res, err := g.limiter.ByKeyIP().Reserve(ctx, g.identifier(user), ip)
	return res, lockedErr(err)
}

// CleanupForIP forgives the global-IP tier.
func (g *LoginGuard) CleanupForIP(ctx context.Context, ip string) error {
	return g.limiter.ByIP().Cleanup(ctx, ip)
}

// CleanupForUserIP forgives the user+IP tier.
func (g *LoginGuard) CleanupForUserIP(ctx context.Context, user, ip string) error {
	return g.limiter.ByKeyIP().Cleanup(ctx, g.identifier(user), ip)
}

// Attempt charges both tiers concurrently. A locked tier yields an error
// matching both ErrLoginLocked and ratelimit.ErrRateLimited.
func (g *LoginGuard) Attempt(ctx context.Context, user, ip string) error {
	_, err := g.limiter.Reserve(ctx, g.identifier(user), ip)
	return lockedErr(err)
}

// Forgive clears the user+IP counter and, with ForgiveIP, the IP counter too.
func (g *LoginGuard) Forgive(ctx context.Context, user, ip string) error {
	if g.config.ForgiveIP {
		return g.limiter.Cleanup(ctx, g.identifier(user), ip)
	}
	return g.CleanupForUserIP(ctx, user, ip)
}

// Protect charges the attempt, runs authenticate only when neither tier is
// locked, and forgives on success. Forgiveness failures are logged, not
// returned: the login itself already succeeded.
func (g *LoginGuard) Protect(ctx context.Context, user, ip string, authenticate func(context.Context) error) error {
	if err := g.Attempt(ctx, user, ip); err != nil {
		return err
	}
	if err := authenticate(ctx); err != nil {
		return err
	}
	if err := g.Forgive(ctx, user, ip); err != nil {
		g.opts.logger.WarnContext(ctx, "login limiter forgiveness failed",
			"component", "goguard",
			"ip", ip,
			"error", err,
		)
	}
	return nil
}

func (g *LoginGuard) identifier(user string) string {
	if !g.config.HashIdentifiers || user == "" {
		return user
	}
	h, err := blake2b.New256(g.config.IdentifierKey)
	if err != nil {
		// key length is checked by Validate
		sum := blake2b.Sum256([]byte(user))
		return hex.EncodeToString(sum[:16])
	}
	h.Write([]byte(user))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func lockedErr(err error) error {
	if err == nil || !ratelimit.IsRateLimited(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLoginLocked, err)
}
