package authcore

import (
	"context"
	"time"

	"github.com/glowme/authcore/session"
)

// AccountStatus is the standing of an account as reported by the
// surrounding application. The core does not define or store account state
// itself; it only asks whether the account is in good standing.
type AccountStatus uint8

const (
	// AccountActive is an account in good standing.
	AccountActive AccountStatus = iota
	// AccountDisabled is an account that must not hold live sessions.
	AccountDisabled
	// AccountDeleted is an account that no longer exists.
	AccountDeleted
)

// UserRecord is the minimal account state the core consumes.
type UserRecord struct {
	UserID int64
	Status AccountStatus
}

// UserProvider is the collaborator contract the embedding application
// implements: given a user id, answer whether the account exists and is in
// good standing.
type UserProvider interface {
	GetUserByID(ctx context.Context, userID int64) (UserRecord, error)
}

// SessionInfo is the verdict [Engine.Validate] hands to route handlers.
type SessionInfo struct {
	UserID    int64
	SessionID string

	// Renewed reports that this validation extended the session; a fresh
	// session cookie was issued on the response.
	Renewed bool

	// IdleTTL is the idle time remaining after validation.
	IdleTTL time.Duration

	// csrfToken is the server-side token used by the guard's three-way
	// check. Kept unexported so handlers cannot leak it.
	csrfToken string
}

// RevocationResult reports a logout-all or password-change revocation.
type RevocationResult struct {
	// Revoked is the number of sessions destroyed.
	Revoked int
	// SelfIncluded reports whether the caller's own session was destroyed.
	SelfIncluded bool
	// Rotated is the replacement session after a password-change rotation,
	// nil for logout-all.
	Rotated *session.Session
}

// SessionDiagnostics is the admin-facing view of one session's timers.
// The session id is redacted to a prefix.
type SessionDiagnostics struct {
	Backend           string
	SessionIDPrefix   string
	UserID            int64
	CreatedAt         time.Time
	LastSeenAt        time.Time
	IdleTTL           time.Duration
	AbsoluteRemaining time.Duration
	Renewed           bool
}
