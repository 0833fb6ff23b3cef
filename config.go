package authcore

import (
	"errors"
	"net/http"
	"time"

	"github.com/glowme/authcore/session"
)

// Config defines the tuning surface of the auth core. Instances are
// configured during initialization and then treated as immutable.
type Config struct {
	Session   session.Config
	Cookie    CookieConfig
	CSRF      CSRFConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// RevocationEnabled gates logout-all and password-change revocation.
	RevocationEnabled bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the attributes applied to both auth cookies.
type CookieConfig struct {
	// Domain is the configured apex, e.g. ".glowme.io". The CSRF cookie
	// falls back to host-only when the serving host is outside this domain.
	Domain   string
	Secure   bool
	SameSite http.SameSite

	// MaxAge defaults to the session idle window.
	MaxAge time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFMode selects how a verification failure is handled.
type CSRFMode int

const (
	// CSRFShadow logs a would-block decision and lets the request proceed.
	// This is the rollout mode for making the guard observable before it
	// becomes load-bearing.
	CSRFShadow CSRFMode = iota
	// CSRFEnforced rejects the request on verification failure.
	CSRFEnforced
)

// CSRFConfig controls the double-submit guard.
type CSRFConfig struct {
	Mode CSRFMode

	// Header is the request header carrying the echoed token.
	Header string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls the login rate limiter. Disabling it is an
// accepted fail-open posture.
type RateLimitConfig struct {
	Enabled  bool
	MaxFails int
	Window   time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults of the glow platform:
// 30 minute idle window, 24 hour absolute ceiling, renewal at half the
// idle window, 5 failed logins per 60 seconds, CSRF in shadow mode.
func DefaultConfig() Config {
	return Config{
		Session: session.Config{
			Backend:          session.BackendMemory,
			Prefix:           "glow",
			IdleWindow:       30 * time.Minute,
			AbsoluteLifetime: 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Domain:   ".glowme.io",
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		},
		CSRF: CSRFConfig{
			Mode:   CSRFShadow,
			Header: CSRFHeaderName,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			MaxFails: 5,
			Window:   time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RevocationEnabled: true,
	}
}

func (c *Config) validate() error {
	if c.Session.IdleWindow < 0 || c.Session.AbsoluteLifetime < 0 {
		return errors.New("session windows must not be negative")
	}
	if c.Session.IdleWindow > 0 && c.Session.AbsoluteLifetime > 0 &&
		c.Session.IdleWindow > c.Session.AbsoluteLifetime {
		return errors.New("idle window must not exceed absolute lifetime")
	}
	if c.CSRF.Mode != CSRFShadow && c.CSRF.Mode != CSRFEnforced {
		return errors.New("invalid csrf mode")
	}
	if c.RateLimit.Enabled && c.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxFails <= 0 {
		return errors.New("rate limit max fails must be positive")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Cookie.SameSite == 0 {
		c.Cookie.SameSite = http.SameSiteLaxMode
	}
	if c.Cookie.MaxAge <= 0 {
		if c.Session.IdleWindow > 0 {
			c.Cookie.MaxAge = c.Session.IdleWindow
		} else {
			c.Cookie.MaxAge = 30 * time.Minute
		}
	}
	if c.CSRF.Header == "" {
		c.CSRF.Header = CSRFHeaderName
	}
}
