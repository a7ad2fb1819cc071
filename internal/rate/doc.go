// Package rate provides the Redis-backed sliding-window rate limiter shared by every
// throttled action in teamguard, plus the exponential backoff helper used by lockout.
//
// # Window semantics
//
// Sliding-window log: each action/identity pair owns one sorted set scored by unix
// milliseconds. A single Lua script trims entries older than the window, records the
// current hit, counts, and refreshes the key TTL, so concurrent checks for the same key
// never lose updates. Key prefix:
//   - rl:<action>:<identity>
//
// Denied hits stay in the window. A client that keeps hammering a limited action stays
// limited until it backs off for a full window.
//
// # What this package must NOT do
//
//   - Decide consequences of a denial (the engine audits and maps errors).
//   - Be imported outside the teamguard module.
package rate
