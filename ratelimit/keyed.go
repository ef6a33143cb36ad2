package ratelimit

import (
	"context"
	"strings"
)

const (
	// DefaultPrefix namespaces every counter key.
	DefaultPrefix = "rate-limit"
	// KeySeparator joins the prefix, limiter name and key parts.
	KeySeparator = "/"
)

// partEscaper keeps parts from forging separators or Redis Cluster hash tags.
var partEscaper = strings.NewReplacer(
	"%", "%25",
	KeySeparator, "%2F",
	"{", "%7B",
	"}", "%7D",
)

// reservedNameChars may not appear in prefixes or limiter names.
const reservedNameChars = KeySeparator + "{}"

// LimiterOption customizes a Limiter.
type LimiterOption func(*limiterOptions)

type limiterOptions struct {
	prefix string
}

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) LimiterOption {
	return func(o *limiterOptions) {
		o.prefix = prefix
	}
}

func buildLimiterOptions(opts []LimiterOption) (limiterOptions, error) {
	o := limiterOptions{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prefix == "" || strings.ContainsAny(o.prefix, reservedNameChars) {
		return o, configError("key prefix %q must be non-empty and free of %q", o.prefix, reservedNameChars)
	}
	return o, nil
}

// Limiter is a named [Store] whose counters are addressed by ordered key
// parts. Denials are re-wrapped with the limiter name and the composed key.
type Limiter struct {
	name   string
	store  Store
	prefix string
	// tagLast wraps the last part in a hash tag so every counter sharing it
	// lands in one Redis Cluster slot.
	tagLast bool
}

// NewLimiter returns a limiter called name over store.
func NewLimiter(name string, store Store, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, configError("limiter %q: store required", name)
	}
	if name == "" || strings.ContainsAny(name, reservedNameChars) {
		return nil, configError("limiter name %q must be non-empty and free of %q", name, reservedNameChars)
	}
	o, err := buildLimiterOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		name:   name,
		store:  store,
		prefix: o.prefix,
	}, nil
}

// Name returns the limiter name.
func (l *Limiter) Name() string { return l.name }

// Config returns the underlying store configuration.
func (l *Limiter) Config() Config { return l.store.Config() }

// Key composes the counter key for parts. At least one part is required and
// no part may be empty. Separators and braces inside parts are
// percent-escaped, so distinct part lists never share a key.
func (l *Limiter) Key(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", configError("limiter %q: at least one key part required", l.name)
	}

	var b strings.Builder
	b.WriteString(l.prefix)
	b.WriteString(KeySeparator)
	b.WriteString(l.name)
	for i, p := range parts {
		if p == "" {
			return "", configError("limiter %q: key part %d is empty", l.name, i)
		}
		b.WriteString(KeySeparator)
		if l.tagLast && i == len(parts)-1 {
			b.WriteString("{")
			b.WriteString(partEscaper.Replace(p))
			b.WriteString("}")
			continue
		}
		b.WriteString(partEscaper.Replace(p))
	}
	return b.String(), nil
}

// Check evaluates the counter for parts without reserving.
func (l *Limiter) Check(ctx context.Context, parts ...string) (Result, error) {
	key, err := l.Key(parts...)
	if err != nil {
		return Result{}, err
	}
	res, err := l.store.Check(ctx, key)
	return res, l.wrap(key, err)
}

// CheckErr is Check that turns an exhausted counter into a rate-limit error.
func (l *Limiter) CheckErr(ctx context.Context, parts ...string) error {
	key, err := l.Key(parts...)
	if err != nil {
		return err
	}
	res, err := l.store.Check(ctx, key)
	if err != nil {
		return l.wrap(key, err)
	}
	if res.Exhausted() {
		return &Error{
			Kind:    KindRateLimited,
			Limiter: l.name,
			Key:     key,
			Reset:   res.Reset,
			Limit:   res.Limit,
		}
	}
	return nil
}

// Reserve takes one reservation with a generated token.
func (l *Limiter) Reserve(ctx context.Context, parts ...string) (Result, error) {
	return l.ReserveToken(ctx, "", parts...)
}

// ReserveToken takes one reservation identified by token.
func (l *Limiter) ReserveToken(ctx context.Context, token string, parts ...string) (Result, error) {
	key, err := l.Key(parts...)
	if err != nil {
		return Result{}, err
	}
	res, err := l.store.Reserve(ctx, key, token)
	return res, l.wrap(key, err)
}

// Cancel gives back one reservation.
func (l *Limiter) Cancel(ctx context.Context, token string, parts ...string) error {
	key, err := l.Key(parts...)
	if err != nil {
		return err
	}
	return l.wrap(key, l.store.Cancel(ctx, key, token))
}

// Cleanup deletes the counter for parts.
func (l *Limiter) Cleanup(ctx context.Context, parts ...string) error {
	key, err := l.Key(parts...)
	if err != nil {
		return err
	}
	return l.wrap(key, l.store.Cleanup(ctx, key))
}

func (l *Limiter) wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		out := *e
		out.Limiter = l.name
		out.Key = key
		return &out
	}
	return &Error{Kind: KindTransport, Limiter: l.name, Key: key, Err: err}
}
