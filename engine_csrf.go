package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/glowme/authcore/session"
)

// VerifyCSRF applies the double-submit check to one request. Read-only
// methods bypass verification entirely. In shadow mode a failure is audited
// as a would-block decision and the request proceeds; in enforced mode the
// matching sentinel error is returned and the caller must reject the
// request with its reason code.
func (e *Engine) VerifyCSRF(ctx context.Context, r *http.Request, info *SessionInfo) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !isMutating(r.Method) {
		return nil
	}
	if info == nil {
		return ErrAuthRequired
	}

	err := e.guard.verify(r, info.csrfToken)
	if err == nil {
		return nil
	}

	if !e.guard.enforced() {
		e.metricInc(MetricCSRFShadowMiss)
		e.emitAudit(ctx, auditEventCSRFShadowMiss, false, info.UserID, info.SessionID, err, map[string]string{
			"reason": ReasonCode(err),
		})
		return nil
	}

	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFFail, false, info.UserID, info.SessionID, err, map[string]string{
		"reason": ReasonCode(err),
	})
	return err
}

// RotateCSRF mints a fresh token for the caller's session, stores it
// server-side, and re-issues the CSRF cookie. Used by the token-rotation
// endpoint; also invoked internally whenever the session itself rotates.
func (e *Engine) RotateCSRF(ctx context.Context, w http.ResponseWriter, r *http.Request, info *SessionInfo) (string, error) {
	if e == nil || e.store == nil {
		return "", ErrEngineNotReady
	}
	if info == nil {
		return "", ErrAuthRequired
	}

	token, err := e.issueCSRF(ctx, info.SessionID, w, r)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", ErrSessionExpired
		}
		if errors.Is(err, session.ErrUnavailable) {
			e.metricInc(MetricBackendUnavailable)
			e.emitAudit(ctx, auditEventBackendUnavailable, false, info.UserID, info.SessionID, err, nil)
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return "", err
	}

	info.csrfToken = token
	e.emitAudit(ctx, auditEventCSRFRotate, true, info.UserID, info.SessionID, nil, map[string]string{
		"token_length": fmt.Sprintf("%d", len(token)),
	})

	return token, nil
}

// issueCSRF mints a token, persists it on the session record, and mirrors
// it into the non-HttpOnly cookie with the same policy as the session
// cookie (host-only fallback included).
func (e *Engine) issueCSRF(ctx context.Context, sessionID string, w http.ResponseWriter, r *http.Request) (string, error) {
	token, err := MintCSRFToken()
	if err != nil {
		return "", err
	}

	if err := e.store.SetCSRFToken(ctx, sessionID, token); err != nil {
		return "", err
	}

	e.cookies.SetCSRF(w, r, token)
	return token, nil
}
