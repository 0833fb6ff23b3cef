// Package middleware exposes the HTTP enforcement pipeline built on top of
// authcore.Engine: rate-limit admission on login routes, then
// session-validate, then CSRF-verify on every mutating route. The order is
// explicit middleware composition, not a side effect of decorator
// stacking, so it is a testable property.
//
// # Guards
//
//   - [RequireSession] — validates the session cookie and injects
//     [authcore.SessionInfo] into the request context.
//   - [VerifyCSRF] — applies the double-submit check to mutating methods.
//   - [Protect] — RequireSession followed by VerifyCSRF.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// the Engine.
//
// # What this package must NOT do
//
//   - Read or write session records (the Engine owns I/O).
//   - Make authorization decisions beyond pass/reject from the Engine.
//   - Redirect on failure: rejections are JSON reason codes.
package middleware
