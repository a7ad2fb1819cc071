// Package audit implements the security event log: event model, metadata sanitizing,
// async dispatching, persistence and the read-only detectors over it.
//
// # Components
//
//   - [Event]: security record with type, user, IP, user agent, severity, metadata.
//   - [Sanitize]: redacts secret-like metadata keys before anything is stored.
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Store]: append/query/prune contract; [RedisStore] here, Postgres in pgstore.
//   - [FallbackSink]: primary store with a JSON-lines file fallback.
//   - [DetectSuspiciousAuth], [DetectReconnaissance]: counting analytics.
//
// # Architecture boundaries
//
// This package owns event buffering, delivery and storage shape. It does NOT decide
// which events to emit; that belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import teamguard or any sibling internal package.
//   - Return storage errors from Emit.
package audit
