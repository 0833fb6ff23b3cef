package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

const sessionIDRawSize = 32

// Session is one authenticated browser session. All timestamps are unix
// seconds. CreatedAt and AbsoluteExpiresAt are fixed at creation; LastSeenAt
// moves forward on renewal. A session belongs to exactly one user for its
// entire lifetime.
type Session struct {
	SessionID string
	UserID    int64

	CreatedAt         int64
	LastSeenAt        int64
	AbsoluteExpiresAt int64

	// CSRFToken is the server-side leg of the double-submit check.
	// Empty means CSRF has not been issued for this session yet.
	CSRFToken string
}

// TouchResult reports the outcome of a renew-if-needed check.
type TouchResult struct {
	Renewed bool
	IdleTTL time.Duration
}

// Backend selects a [Store] implementation at startup.
type Backend string

const (
	// BackendMemory keeps sessions in process memory. Single-node only.
	BackendMemory Backend = "memory"
	// BackendRedis keeps sessions in Redis, shared across nodes.
	BackendRedis Backend = "redis"
)

// Config holds session store tuning parameters. Zero values fall back to
// production defaults; set once at startup and treat as immutable.
type Config struct {
	Backend Backend

	// Prefix sets the Redis key namespace. Ignored by the memory backend.
	Prefix string

	IdleWindow       time.Duration
	AbsoluteLifetime time.Duration

	// RenewThreshold is the remaining idle time at or below which a touch
	// renews the session. Zero means half the idle window.
	RenewThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Prefix == "" {
		c.Prefix = "glow"
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = 30 * time.Minute
	}
	if c.AbsoluteLifetime <= 0 {
		c.AbsoluteLifetime = 24 * time.Hour
	}
	if c.RenewThreshold <= 0 || c.RenewThreshold > c.IdleWindow {
		c.RenewThreshold = c.IdleWindow / 2
	}
	return c
}

// NewSessionID returns an opaque, unguessable session identifier
// (256 bits of entropy, base64url without padding). Collisions are
// prevented by entropy, not by existence checks.
func NewSessionID() (string, error) {
	var raw [sessionIDRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func newSession(userID int64, now time.Time, cfg Config) (*Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	return &Session{
		SessionID:         id,
		UserID:            userID,
		CreatedAt:         now.Unix(),
		LastSeenAt:        now.Unix(),
		AbsoluteExpiresAt: now.Add(cfg.AbsoluteLifetime).Unix(),
	}, nil
}
