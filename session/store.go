package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session is absent or was lazily expired.
var ErrNotFound = errors.New("session not found")

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers treat it as "session invalid" on reads (fail closed) and as a
// loud failure on creates.
var ErrUnavailable = errors.New("session backend unavailable")

// Store is the polymorphic session-store contract. Exactly two
// implementations exist: [MemoryStore] and [RedisStore]. Both enforce the
// same lazy expiry rules; there is no background sweep.
type Store interface {
	// Create persists a fresh session for userID with a TTL equal to the
	// idle window and registers it in the user's revocation index.
	Create(ctx context.Context, userID int64) (*Session, error)

	// Get returns the session, or [ErrNotFound] if it is absent, past its
	// absolute ceiling, or idle-expired. Both expiry checks destroy the
	// record as a side effect.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Touch renews the session when its remaining idle time is at or below
	// the renewal threshold; otherwise it only reports the remaining TTL.
	// Renewal resets LastSeenAt and extends the backing TTL to the full
	// idle window, capped at the absolute ceiling.
	Touch(ctx context.Context, sessionID string) (TouchResult, error)

	// SetCSRFToken stores the server-side CSRF token on an existing session
	// without disturbing its TTL.
	SetCSRFToken(ctx context.Context, sessionID, token string) error

	// Destroy removes the session and its index entry. Idempotent.
	Destroy(ctx context.Context, sessionID string) error

	// DestroyAllForUser removes every session for a user via the revocation
	// index and returns how many live records were destroyed.
	DestroyAllForUser(ctx context.Context, userID int64) (int, error)

	// ActiveSessionIDs returns the tracked session IDs for a user. The
	// index is a traversal aid only; entries may reference records that
	// already expired.
	ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error)

	// Rotate issues a brand-new session carrying forward the same user,
	// then destroys the old record and fixes the index. The new session has
	// a fresh id, fresh timestamps, and no CSRF token yet.
	Rotate(ctx context.Context, sessionID string) (*Session, error)

	// Ping is a point-in-time backend availability check.
	Ping(ctx context.Context) error
}

// New selects and constructs the store backend once at startup. The Redis
// backend requires a client; the memory backend ignores it.
func New(cfg Config, client redis.UniversalClient) (Store, error) {
	cfg = cfg.withDefaults()

	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(cfg), nil
	case BackendRedis:
		if client == nil {
			return nil, errors.New("redis backend requires a client")
		}
		return NewRedisStore(client, cfg), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
