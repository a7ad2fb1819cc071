// Package stores provides the Redis-backed password reset token store.
//
// # Design
//
// Each token digest maps to a versioned, binary-encoded record with a TTL equal to the
// token lifetime. A per-user sorted set indexes outstanding tokens by expiry so expired
// entries can be pruned on issue and by the sweeper. Consumption flips a used flag with
// WATCH/MULTI and retries on contention; the used record stays behind as a tombstone
// until it expires so a replay is rejected as used rather than unknown.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for reset records. It does NOT
// generate tokens, enforce rate limits, or apply binding policy; the Engine does.
//
// # What this package must NOT do
//
//   - Import teamguard or any sibling internal package.
//   - Store raw tokens or raw client binding values.
package stores
