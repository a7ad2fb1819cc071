// Package teamguard is the authentication and session security core of a team
// messaging server.
//
// It authenticates users with Argon2id password hashes, issues opaque session tokens
// bound to a device fingerprint, validates and rotates those sessions atomically in
// Redis, and falls back to HS256 bearer JWTs for API clients. Around that core it
// enforces per-action sliding-window rate limits, per-account and per-IP lockout,
// single-use password reset tokens and double-submit CSRF tokens, and records every
// security decision in an audit log that can be queried for suspicious patterns.
//
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Architecture boundaries
//
// teamguard is the public surface: [Engine], [Builder], [Config] and value types.
// Storage scripts, the limiter, the lockout tracker and the audit pipeline live under
// internal/. The HTTP adapter lives in middleware/.
//
// # Failure policy
//
// Every backend call is bounded by Security.StoreTimeout. A backend failure or timeout
// fails closed with an error matching [ErrStoreUnavailable]; it never authenticates a
// request.
package teamguard
