package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/ratelimit"
)

// KeyFunc returns the key parts a request is counted under. An empty slice
// lets the request through uncounted.
type KeyFunc func(*http.Request) []string

// ByIP counts requests per client IP, trusting trustedHeader like ClientIP.
// Requests without an IP are not counted.
func ByIP(trustedHeader string) KeyFunc {
	return func(r *http.Request) []string {
		ip := RequestIP(r, trustedHeader)
		if ip == "" {
			return nil
		}
		return []string{ip}
	}
}

// RateLimit reserves one slot of limiter per request before calling next.
// Denials are written with goGuard.Explain. Store failures and rejected keys
// fail open and are logged to logger, which may be nil.
func RateLimit(limiter *ratelimit.Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || key == nil {
				next.ServeHTTP(w, r)
				return
			}

			parts := key(r)
			if len(parts) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			if _, err := limiter.Reserve(r.Context(), parts...); err != nil {
				if d, ok := goGuard.Explain(err); ok {
					d.WriteHTTP(w)
					return
				}
				msg := "rate limiter unavailable"
				if errors.Is(err, ratelimit.ErrInvalidConfig) {
					msg = "rate limiter rejected request key"
				}
				logger.WarnContext(r.Context(), msg,
					"component", "goguard",
					"limiter", limiter.Name(),
					"error", err,
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
