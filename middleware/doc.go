// Package middleware adapts teamguard.Engine to net/http.
//
// # Middleware
//
//   - [Precheck] rejects malformed transport (plain HTTP in production, missing user
//     agent, oversized body, unexpected content type) and attaches the request info.
//   - [Protect] runs Precheck, the api rate limit and the authenticator chain, then
//     calls the handler with the identity in context.
//   - [CSRF] enforces the double-submit cookie on state-changing methods.
//   - [RequireRole] checks the identity role through Engine.Authorize.
//   - [SecurityHeaders] sets the static response hardening headers.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls: cookies, headers, status
// codes and JSON error bodies. Every security decision, audit event and store access
// happens inside the Engine.
package middleware
