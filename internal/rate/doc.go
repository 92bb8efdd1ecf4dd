// Package rate provides the Redis fixed-window counters behind login and
// code-request throttling.
//
// # Window semantics
//
// Fixed-window counters: one Lua script does INCR and sets PEXPIRE on the
// first hit, so the window starts atomically. Key prefixes:
//   - pl:   login failures per identifier
//   - pli:  login failures per IP
//   - pr:   code requests per scope and identifier
//   - pri:  code requests per scope and IP
//
// # What this package must NOT do
//
//   - Decide what happens to a throttled caller; the Engine maps ErrRateLimited.
//   - Be imported outside the portalauth module.
package rate
