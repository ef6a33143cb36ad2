// Package guard applies ratelimit counters to authentication abuse:
//
//   - [LoginGuard] locks brute-force login attempts per IP and per user+IP and
//     forgives both counters after a successful login.
//   - [ChallengeGuard] throttles paid phone/SMS challenges with a global
//     ceiling, a hard lock tier and a captcha escalation tier.
//
// # Charging
//
// Every tier has a [ChargePolicy]. ChargeOnAttempt reserves before the guarded
// work runs; ChargeOnSuccess only dry-runs before and reserves once the work
// has succeeded.
//
// # What this package must NOT do
//
//   - Verify credentials, send messages or solve captchas. Callers pass that
//     work in as callbacks and [Verifier] implementations.
package guard
