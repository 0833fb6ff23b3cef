// Package authcore is the session, credential-gating, and CSRF-protection
// core of the glow platform. It owns everything between "the password
// checked out" and "this request is authenticated and forgery-safe":
// session lifecycle with sliding idle expiry and a fixed absolute ceiling,
// double-submit CSRF with a server-side third leg, per-user mass
// revocation, and a sliding-window login rate limiter.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the cookie policy, audit sinks, and value types (SessionInfo,
// RevocationResult, MetricsSnapshot). Session persistence lives in the
// session subpackage; the rate limiter lives under internal/ and is never
// exported.
//
// # What this package must NOT do
//
//   - Verify passwords or define account state (external collaborators).
//   - Decide what an authenticated request is allowed to do.
//   - Redirect: every rejection is a structured reason code, because this
//     is an API surface and redirect-based auth failure is ambiguous.
package authcore
