// Package middleware exposes net/http adapters for goGuard.
//
//   - [ClientIP] stores the caller's IP in the request context so
//     Engine.Login and Engine.Challenge can read it.
//   - [RateLimit] reserves one slot of a [ratelimit.Limiter] per request and
//     answers denials with the Explain mapping of the root package.
//
// # What this package must NOT do
//
//   - Access Redis directly (limiters own the I/O).
//   - Trust forwarding headers unless the caller names them.
package middleware
