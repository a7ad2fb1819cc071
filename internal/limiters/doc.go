// Package limiters provides the failed-attempt lockout tracker built on top of the
// internal/rate primitives.
//
// # Trackers
//
//   - [LockoutTracker]: per-scope counter with automatic unlock. Scopes [ScopeAccount]
//     and [ScopeIP] use independent keys (alo:<scope>:<identity>); callers treat an
//     identity as locked when either scope reports locked.
//
// Every update is one Lua script over a Redis hash (count, start, locked_until,
// lockouts). Expired locks are cleared lazily on the next read, so correctness never
// depends on a background sweep.
//
// The tracker is nil-safe: calling any method on a nil receiver is a no-op.
//
// # What this package must NOT do
//
//   - Import teamguard or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
