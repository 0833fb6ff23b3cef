package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	authcore "github.com/glowme/authcore"
)

type sessionInfoContextKey struct{}

// SessionFromContext returns the validated session injected by
// [RequireSession].
func SessionFromContext(ctx context.Context) (*authcore.SessionInfo, bool) {
	info, ok := ctx.Value(sessionInfoContextKey{}).(*authcore.SessionInfo)
	return info, ok
}

// RequireSession validates the session cookie via Engine.Validate and
// injects the resulting [authcore.SessionInfo] into the request context.
// Missing, invalid, or expired sessions are rejected with 401 and a reason
// code; a degraded backend reads the same way (fail closed).
func RequireSession(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				reject(w, http.StatusUnauthorized, authcore.CodeAuthRequired, "authentication required")
				return
			}

			ctx := requestContext(r)
			info, err := engine.Validate(ctx, w, r)
			if err != nil {
				reject(w, http.StatusUnauthorized, authcore.ReasonCode(err), "authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionInfoContextKey{}, info)))
		})
	}
}

// VerifyCSRF applies the double-submit check to mutating methods. It must
// run after [RequireSession]; requests without a validated session are
// rejected as unauthenticated, never as CSRF failures. Shadow-mode misses
// pass through (the Engine audits them).
func VerifyCSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := SessionFromContext(r.Context())
			if !ok {
				reject(w, http.StatusUnauthorized, authcore.CodeAuthRequired, "authentication required")
				return
			}

			if err := engine.VerifyCSRF(r.Context(), r, info); err != nil {
				reject(w, http.StatusForbidden, authcore.ReasonCode(err), "csrf validation failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Protect is the standard pipeline for authenticated mutating routes:
// session-validate, then CSRF-verify, then the handler.
func Protect(engine *authcore.Engine) func(http.Handler) http.Handler {
	requireSession := RequireSession(engine)
	verifyCSRF := VerifyCSRF(engine)
	return func(next http.Handler) http.Handler {
		return requireSession(verifyCSRF(next))
	}
}

// LoginAdmission wraps a login handler with the rate-limit admission
// check. The account identifier is extracted by accountFrom (e.g. from the
// request body or a form field); rejected attempts get 429 with a
// Retry-After header and a RATE_LIMITED reason code.
func LoginAdmission(engine *authcore.Engine, accountFrom func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			retryAfter, err := engine.CheckLoginAllowed(r, accountFrom(r))
			if err != nil {
				if errors.Is(err, authcore.ErrRateLimited) {
					seconds := int(retryAfter.Seconds())
					if seconds < 1 {
						seconds = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
					reject(w, http.StatusTooManyRequests, authcore.CodeRateLimited, "too many failed logins")
					return
				}
				reject(w, http.StatusServiceUnavailable, authcore.ReasonCode(err), "login unavailable")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), authcore.ClientIP(r))
	return authcore.WithUserAgent(ctx, r.UserAgent())
}

func reject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	})
}
