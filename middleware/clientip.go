package middleware

import (
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// ClientIP attaches the request's client IP to its context. When trustedHeader
// is non-empty (e.g. "X-Forwarded-For") and present, its first entry wins over
// RemoteAddr. Only name a header a proxy you control overwrites.
func ClientIP(trustedHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RequestIP(r, trustedHeader)
			next.ServeHTTP(w, r.WithContext(goGuard.WithClientIP(r.Context(), ip)))
		})
	}
}

// RequestIP extracts the client IP the way ClientIP does.
func RequestIP(r *http.Request, trustedHeader string) string {
	if trustedHeader != "" {
		if v := r.Header.Get(trustedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
