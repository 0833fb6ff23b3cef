package authcore

import "errors"

var (
	// ErrAuthRequired is returned when no session cookie was presented.
	ErrAuthRequired = errors.New("authentication required")
	// ErrSessionExpired is returned when a session was presented but failed
	// the idle or absolute check (or no longer exists in the store).
	ErrSessionExpired = errors.New("session expired")
	// ErrCSRFMissing is returned when the CSRF request header is absent.
	ErrCSRFMissing = errors.New("csrf token missing")
	// ErrCSRFCookieMissing is returned when the CSRF cookie is absent.
	ErrCSRFCookieMissing = errors.New("csrf cookie missing")
	// ErrCSRFInvalid is returned on any three-way CSRF mismatch.
	ErrCSRFInvalid = errors.New("csrf validation failed")
	// ErrRateLimited is returned when the login rate limiter rejects an attempt.
	ErrRateLimited = errors.New("login rate limited")
	// ErrBackendUnavailable is returned when the session backend cannot be
	// reached during an operation that must fail loudly (session creation).
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrRevocationDisabled is returned when logout-all or password-change
	// revocation is invoked while the feature flag is off.
	ErrRevocationDisabled = errors.New("session revocation disabled")
	// ErrSessionCreationFailed is returned when a session could not be issued.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrEngineNotReady is returned when an Engine method runs before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Reason codes are the machine-readable rejection identifiers surfaced to
// API callers alongside any human-readable message. None of these should
// ever turn into a redirect.
const (
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeCSRFMissing        = "CSRF_MISSING"
	CodeCSRFCookieMissing  = "CSRF_COOKIE_MISSING"
	CodeCSRFInvalid        = "CSRF_INVALID"
	CodeRateLimited        = "RATE_LIMITED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeFeatureDisabled    = "FEATURE_DISABLED"
	CodeInternal           = "INTERNAL_ERROR"
)

// ReasonCode maps an Engine error to its reason code. Unknown errors map
// to INTERNAL_ERROR.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return CodeAuthRequired
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	case errors.Is(err, ErrCSRFMissing):
		return CodeCSRFMissing
	case errors.Is(err, ErrCSRFCookieMissing):
		return CodeCSRFCookieMissing
	case errors.Is(err, ErrCSRFInvalid):
		return CodeCSRFInvalid
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrBackendUnavailable):
		return CodeBackendUnavailable
	case errors.Is(err, ErrRevocationDisabled):
		return CodeFeatureDisabled
	default:
		return CodeInternal
	}
}
