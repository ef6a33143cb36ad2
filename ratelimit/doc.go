// Package ratelimit implements an atomic sliding-window rate limiter on Redis
// and the keyed and composite limiters built on top of it.
//
// # Window semantics
//
// Each counter is one sorted set. Members are reservation tokens scored with
// the epoch-millisecond instant they were taken. A single Lua script prunes
// reservations older than the window, counts what remains and inserts the new
// token, so concurrent callers never both pass the limit.
//
// A counter that reaches its limit is blocked until its block interval
// elapses; while blocked the window does not slide. Config{Window: 0, Block: 0}
// blocks forever and only Cleanup releases the counter. With Window 0 and a
// positive Block the window never slides but the block still lapses.
//
// All time arithmetic is done in milliseconds. The current time comes from an
// injected [Clock]; Redis TTLs are only used to garbage-collect idle counters.
//
// # Keys
//
//	rate-limit/<limiter name>/<part>/<part>...
//
// Parts are percent-escaped for "%", "/", "{" and "}". The composite limiter
// wraps its IP part in a hash tag, rate-limit/login-ip/{10.0.0.1}, so both of
// its counters live in one Redis Cluster slot.
//
// # What this package must NOT do
//
//   - Make policy decisions (forgiveness, captcha escalation). Those live in guard.
//   - Read the wall clock directly.
package ratelimit
