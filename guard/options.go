package guard

import (
	"log/slog"

	"github.com/MrEthical07/goGuard/ratelimit"
)

// Option customizes a guard.
type Option func(*options)

type options struct {
	clock  ratelimit.Clock
	prefix string
	logger *slog.Logger
}

// WithClock injects the clock used by every tier's store.
func WithClock(c ratelimit.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithPrefix overrides ratelimit.DefaultPrefix for every tier.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithLogger sets the logger used for failures that do not fail the request.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  ratelimit.SystemClock{},
		prefix: ratelimit.DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = ratelimit.SystemClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o options) storeOptions() []ratelimit.StoreOption {
	return []ratelimit.StoreOption{ratelimit.WithClock(o.clock)}
}

func (o options) limiterOptions() []ratelimit.LimiterOption {
	return []ratelimit.LimiterOption{ratelimit.WithPrefix(o.prefix)}
}
