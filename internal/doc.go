// Package internal holds token primitives shared by the teamguard engine and its stores.
//
// # Sub-packages
//
//   - audit    : security event model, sanitizer, async dispatcher, event stores.
//   - rate     : sliding-window rate limiter on Redis sorted sets.
//   - limiters : account/IP lockout tracker.
//   - stores   : password reset token persistence.
//   - credstore: PostgreSQL credential store used by the server.
//   - db       : pgx pool, embedded migrations, migration runner.
//   - httpapi  : JSON handlers for the server binary.
//   - notify   : password reset delivery (Kafka or log).
//   - config   : viper-backed service configuration.
//   - logging  : zap logger construction.
//   - telemetry: OTLP trace and metric providers.
//
// # What this package must NOT do
//
//   - Import teamguard (no upward imports).
//   - Be imported outside the teamguard module.
package internal
