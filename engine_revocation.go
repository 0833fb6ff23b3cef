package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/glowme/authcore/session"
)

// LogoutAll destroys every session belonging to the caller, including the
// one making the request, then clears both cookies. The cookies are cleared
// regardless of whether destruction could be confirmed for every index
// entry: index traversal is best effort and failed deletions are audited,
// not retried synchronously.
func (e *Engine) LogoutAll(ctx context.Context, w http.ResponseWriter, r *http.Request, info *SessionInfo) (RevocationResult, error) {
	if e == nil || e.store == nil {
		return RevocationResult{}, ErrEngineNotReady
	}
	if !e.config.RevocationEnabled {
		return RevocationResult{}, ErrRevocationDisabled
	}
	if info == nil {
		return RevocationResult{}, ErrAuthRequired
	}

	defer e.cookies.ClearAll(w, r)

	revoked, err := e.store.DestroyAllForUser(ctx, info.UserID)
	if err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, info.UserID, info.SessionID, err, nil)
		return RevocationResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionsRevoked, uint64(revoked))
	e.emitAudit(ctx, auditEventLogoutAll, true, info.UserID, info.SessionID, nil, map[string]string{
		"revoked_count": strconv.Itoa(revoked),
		"self_revoked":  "true",
	})

	return RevocationResult{Revoked: revoked, SelfIncluded: true}, nil
}

// RevokeOthersAndRotate is the password-change path: it destroys every
// session belonging to the caller except the current one, then rotates the
// current session — brand-new id, same user, fresh CSRF token — and issues
// the new cookies. Rotation rather than reuse means a leaked old session id
// is dead the moment credentials change, while the caller's own tab stays
// signed in.
func (e *Engine) RevokeOthersAndRotate(ctx context.Context, w http.ResponseWriter, r *http.Request, info *SessionInfo) (RevocationResult, error) {
	if e == nil || e.store == nil {
		return RevocationResult{}, ErrEngineNotReady
	}
	if !e.config.RevocationEnabled {
		return RevocationResult{}, ErrRevocationDisabled
	}
	if info == nil {
		return RevocationResult{}, ErrAuthRequired
	}

	ids, err := e.store.ActiveSessionIDs(ctx, info.UserID)
	if err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, info.UserID, info.SessionID, err, nil)
		return RevocationResult{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Best-effort traversal: a failed delete is audited and skipped, the
	// entry will be pruned by a later destroy or lazy expiry.
	var revoked int
	for _, sid := range ids {
		if sid == info.SessionID {
			continue
		}
		if destroyErr := e.store.Destroy(ctx, sid); destroyErr != nil {
			e.emitAudit(ctx, auditEventBackendUnavailable, false, info.UserID, sid, destroyErr, map[string]string{
				"stage": "revoke_others",
			})
			continue
		}
		revoked++
	}

	fresh, err := e.store.Rotate(ctx, info.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return RevocationResult{Revoked: revoked}, ErrSessionExpired
		}
		e.metricInc(MetricBackendUnavailable)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, info.UserID, info.SessionID, err, nil)
		return RevocationResult{Revoked: revoked}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.cookies.SetSession(w, fresh.SessionID)
	if token, csrfErr := e.issueCSRF(ctx, fresh.SessionID, w, r); csrfErr == nil {
		fresh.CSRFToken = token
	} else {
		e.emitAudit(ctx, auditEventCSRFIssue, false, info.UserID, fresh.SessionID, csrfErr, nil)
	}

	info.SessionID = fresh.SessionID
	info.csrfToken = fresh.CSRFToken

	e.metricInc(MetricSessionRotated)
	e.metrics.Add(MetricSessionsRevoked, uint64(revoked))
	e.emitAudit(ctx, auditEventPasswordRevocation, true, info.UserID, fresh.SessionID, nil, map[string]string{
		"others_revoked":  strconv.Itoa(revoked),
		"self_revoked":    "false",
		"session_rotated": "true",
	})

	return RevocationResult{Revoked: revoked, Rotated: fresh}, nil
}
