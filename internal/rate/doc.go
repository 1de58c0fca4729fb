// Package rate provides the Redis-backed failed-login throttle used by
// authentication.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key shapes:
//   - <prefix>:login:<hash>    per normalized email
//   - <prefix>:login_ip:<ip>   per client IP
//
// # What this package must NOT do
//
//   - Decide what happens when Redis is down (the engine fails open).
//   - Be imported outside this module.
package rate
