package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/glowme/authcore/session"
)

const sessionIDRedactLen = 8

// SessionDiagnostics builds the admin-facing view of the caller's session
// timers: idle TTL remaining, absolute time remaining, and whether this
// inspection itself renewed the session. The session id is redacted to a
// short prefix so the diagnostic output cannot be replayed.
func (e *Engine) SessionDiagnostics(ctx context.Context, info *SessionInfo) (*SessionDiagnostics, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if info == nil {
		return nil, ErrAuthRequired
	}

	sess, err := e.store.Get(ctx, info.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, e.validateFailure(ctx, info.SessionID, err)
	}

	touch, err := e.store.Touch(ctx, info.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, e.validateFailure(ctx, info.SessionID, err)
	}

	absoluteRemaining := time.Until(time.Unix(sess.AbsoluteExpiresAt, 0))
	if absoluteRemaining < 0 {
		absoluteRemaining = 0
	}

	prefix := info.SessionID
	if len(prefix) > sessionIDRedactLen {
		prefix = prefix[:sessionIDRedactLen] + "..."
	}

	return &SessionDiagnostics{
		Backend:           string(e.config.Session.Backend),
		SessionIDPrefix:   prefix,
		UserID:            sess.UserID,
		CreatedAt:         time.Unix(sess.CreatedAt, 0).UTC(),
		LastSeenAt:        time.Unix(sess.LastSeenAt, 0).UTC(),
		IdleTTL:           touch.IdleTTL,
		AbsoluteRemaining: absoluteRemaining,
		Renewed:           touch.Renewed,
	}, nil
}
