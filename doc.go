// Package goGuard throttles logins and paid challenges with Redis-backed
// sliding-window counters.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Engine], [Builder], [Config] and the
// [Explain] mapping from guard errors to HTTP denials. Counters live in package
// ratelimit; the login and challenge protocols live in package guard. Audit dispatch
// lives under internal/.
//
// # What this package must NOT do
//
//   - Verify credentials or deliver challenges itself; both are caller callbacks.
//   - Hold locks around counters. Each counter operation is one Redis script.
//   - Treat a Redis failure as a rate-limit decision.
package goGuard
