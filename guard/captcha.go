package guard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier decides whether a captcha solution is valid for a challenge.
// A false result with a nil error is a rejected solution; a non-nil error
// means the verifier could not decide.
type Verifier interface {
	Verify(ctx context.Context, solution, key, ip string) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, solution, key, ip string) (bool, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, solution, key, ip string) (bool, error) {
	return f(ctx, solution, key, ip)
}

// JWTVerifierConfig configures JWTVerifier.
type JWTVerifierConfig struct {
	// Secret is the HMAC key shared with the captcha provider.
	Secret []byte
	// Issuer, when set, must match the iss claim.
	Issuer string
	// Audience, when set, must be one of the aud values.
	Audience string
	// BindSubject requires the sub claim to equal the challenge key.
	BindSubject bool
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// JWTVerifier accepts HS256 captcha pass tokens issued by a captcha provider
// or an internal solver service.
type JWTVerifier struct {
	config JWTVerifierConfig
	clock  ratelimit.Clock
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier. clock may be nil.
func NewJWTVerifier(cfg JWTVerifierConfig, clock ratelimit.Clock) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("captcha jwt secret must not be empty")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("captcha jwt leeway must be >= 0")
	}
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(clock.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{
		config: cfg,
		clock:  clock,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses solution and checks signature, expiry, issuer, audience and,
// with BindSubject, that the token was issued for key.
func (v *JWTVerifier) Verify(ctx context.Context, solution, key, ip string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(solution, claims, func(*jwt.Token) (any, error) {
		return v.config.Secret, nil
	})
	if err != nil || !token.Valid {
		return false, nil
	}
	if v.config.BindSubject && claims.Subject != key {
		return false, nil
	}
	return true, nil
}

// Issue signs a pass token for key valid for ttl. Solver services and tests
// use it; production captcha providers mint their own.
func (v *JWTVerifier) Issue(key string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Issuer:    v.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.config.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.config.Secret)
}
