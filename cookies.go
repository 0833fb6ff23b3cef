package authcore

import (
	"net/http"
	"strings"
)

// Cookie and header names shared with the frontend.
const (
	// SessionCookieName carries the opaque session id. HttpOnly.
	SessionCookieName = "glow_session"
	// CSRFCookieName mirrors the CSRF token. Deliberately NOT HttpOnly:
	// client-side script must read it to echo it in the request header.
	CSRFCookieName = "glow_csrf"
	// CSRFHeaderName is the header that must echo the CSRF cookie on every
	// mutating request once enforcement is active.
	CSRFHeaderName = "X-CSRF-Token"
)

// CookiePolicy computes cookie attributes and applies or clears the auth
// cookies on an outgoing response. It holds no state.
type CookiePolicy struct {
	cfg CookieConfig
}

// NewCookiePolicy creates a policy from the given attributes.
func NewCookiePolicy(cfg CookieConfig) CookiePolicy {
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return CookiePolicy{cfg: cfg}
}

// SetSession sets the HttpOnly session cookie.
func (p CookiePolicy) SetSession(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Domain:   p.cfg.Domain,
		Path:     "/",
		MaxAge:   int(p.cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   p.cfg.Secure,
		SameSite: p.cfg.SameSite,
	})
}

// SetCSRF sets the script-readable CSRF cookie. When the serving host is
// outside the configured apex domain the cookie is issued host-only, so we
// never set a cookie for a domain this server cannot validate.
func (p CookiePolicy) SetCSRF(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Domain:   p.csrfDomain(r),
		Path:     "/",
		MaxAge:   int(p.cfg.MaxAge.Seconds()),
		HttpOnly: false,
		Secure:   p.cfg.Secure,
		SameSite: p.cfg.SameSite,
	})
}

// ClearSession expires the session cookie immediately.
func (p CookiePolicy) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Domain:   p.cfg.Domain,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.cfg.Secure,
		SameSite: p.cfg.SameSite,
	})
}

// ClearCSRF expires the CSRF cookie immediately.
func (p CookiePolicy) ClearCSRF(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Domain:   p.csrfDomain(r),
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   p.cfg.Secure,
		SameSite: p.cfg.SameSite,
	})
}

// ClearAll expires both auth cookies.
func (p CookiePolicy) ClearAll(w http.ResponseWriter, r *http.Request) {
	p.ClearSession(w)
	p.ClearCSRF(w, r)
}

// DomainMatches reports whether the request host falls under the configured
// apex domain.
func (p CookiePolicy) DomainMatches(r *http.Request) bool {
	if p.cfg.Domain == "" || r == nil {
		return true
	}

	host := requestHost(r)
	apex := strings.TrimPrefix(p.cfg.Domain, ".")
	return host == apex || strings.HasSuffix(host, "."+apex)
}

func (p CookiePolicy) csrfDomain(r *http.Request) string {
	if p.DomainMatches(r) {
		return p.cfg.Domain
	}
	return ""
}

func requestHost(r *http.Request) string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return host
}

// SessionIDFromRequest reads the session cookie from an incoming request.
func SessionIDFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// CSRFCookieFromRequest reads the CSRF cookie from an incoming request.
func CSRFCookieFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
