package ratelimit

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// CompositeResult holds the per-dimension outcome of an IPKeyLimiter reservation.
type CompositeResult struct {
	IP    Result
	KeyIP Result
}

// IPKeyLimiter limits one action along two dimensions: the caller IP alone,
// and the pair (key, IP). A request passes only when both dimensions pass.
//
// The IP part of both keys is a Redis Cluster hash tag,
// e.g. rate-limit/login-key-ip/alice/{10.0.0.1}, so Cleanup deletes both
// counters with a single command in a single slot.
type IPKeyLimiter struct {
	byIP    *Limiter
	byKeyIP *Limiter
}

// NewIPKeyLimiter builds the two dimensions as "<name>-ip" over byIP and
// "<name>-key-ip" over byKeyIP.
func NewIPKeyLimiter(name string, byIP, byKeyIP Store, opts ...LimiterOption) (*IPKeyLimiter, error) {
	ipLimiter, err := NewLimiter(name+"-ip", byIP, opts...)
	if err != nil {
		return nil, err
	}
	keyIPLimiter, err := NewLimiter(name+"-key-ip", byKeyIP, opts...)
	if err != nil {
		return nil, err
	}
	ipLimiter.tagLast = true
	keyIPLimiter.tagLast = true
	return &IPKeyLimiter{byIP: ipLimiter, byKeyIP: keyIPLimiter}, nil
}

// ByIP returns the IP dimension.
func (l *IPKeyLimiter) ByIP() *Limiter { return l.byIP }

// ByKeyIP returns the key+IP dimension.
func (l *IPKeyLimiter) ByKeyIP() *Limiter { return l.byKeyIP }

// Check dry-runs both dimensions concurrently. Both are always evaluated, and
// store or configuration errors take precedence over rate-limit denials.
func (l *IPKeyLimiter) Check(ctx context.Context, key, ip string) error {
	var (
		g        errgroup.Group
		ipErr    error
		keyIPErr error
	)
	g.Go(func() error {
		ipErr = l.byIP.CheckErr(ctx, ip)
		return nil
	})
	g.Go(func() error {
		keyIPErr = l.byKeyIP.CheckErr(ctx, key, ip)
		return nil
	})
	_ = g.Wait()
	return rankErrors(ipErr, keyIPErr)
}

// Reserve reserves on both dimensions concurrently. Both reservations are
// always attempted, so an exhausted IP dimension still charges the key+IP
// counter and vice versa. Store and configuration errors take precedence over
// rate-limit denials.
func (l *IPKeyLimiter) Reserve(ctx context.Context, key, ip string) (CompositeResult, error) {
	var (
		g        errgroup.Group
		out      CompositeResult
		ipErr    error
		keyIPErr error
	)
	g.Go(func() error {
		out.IP, ipErr = l.byIP.Reserve(ctx, ip)
		return nil
	})
	g.Go(func() error {
		out.KeyIP, keyIPErr = l.byKeyIP.Reserve(ctx, key, ip)
		return nil
	})
	_ = g.Wait()
	return out, rankErrors(ipErr, keyIPErr)
}

// rankErrors returns the first non-rate-limit error, else the first denial.
func rankErrors(errs ...error) error {
	for _, err := range errs {
		if err != nil && !IsRateLimited(err) {
			return err
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Cleanup deletes both counters for (key, ip). When both dimensions run on
// the same Redis client this is one DEL; otherwise each store deletes its own
// counter.
func (l *IPKeyLimiter) Cleanup(ctx context.Context, key, ip string) error {
	ipKey, err := l.byIP.Key(ip)
	if err != nil {
		return err
	}
	keyIPKey, err := l.byKeyIP.Key(key, ip)
	if err != nil {
		return err
	}
	if sameClient(l.byIP.store, l.byKeyIP.store) {
		return l.byKeyIP.wrap(keyIPKey, l.byKeyIP.store.Cleanup(ctx, keyIPKey, ipKey))
	}
	return errors.Join(
		l.byKeyIP.wrap(keyIPKey, l.byKeyIP.store.Cleanup(ctx, keyIPKey)),
		l.byIP.wrap(ipKey, l.byIP.store.Cleanup(ctx, ipKey)),
	)
}

// clientStore is implemented by stores that expose their Redis client.
type clientStore interface {
	client() redis.UniversalClient
}

func sameClient(a, b Store) bool {
	ca, ok := a.(clientStore)
	if !ok {
		return false
	}
	cb, ok := b.(clientStore)
	if !ok {
		return false
	}
	return ca.client() == cb.client()
}
