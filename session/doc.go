// Package session provides Redis-backed session persistence for the session manager.
//
// # Storage layout
//
//   - as:<id>    hash with uid, fp, ip, uah, created, expires, active (unix ms)
//   - au:<uid>   set of the user's session ids
//   - ada:<id>:<kind>  device anomaly de-duplication marker
//
// The id is the sha256 hex digest of the session token, so a store dump yields no usable
// capability. Session keys carry a TTL equal to the remaining lifetime.
//
// # Atomicity
//
// Validation, renewal and deletion each run as one Lua script. Validation deletes a
// failing session in the same step that detected the failure, and renews a session past
// its threshold in the same step that accepted it. Rotation is strict: the old id is
// deleted when the new one is written, with no overlap window.
//
// # What this package must NOT do
//
//   - Import teamguard or jwt (no upward imports).
//   - See raw session tokens.
//   - Decide audit or cookie consequences; the Engine does.
package session
