package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/glowme/authcore/internal/rate"
	"github.com/glowme/authcore/session"
)

// Engine is the orchestration layer route handlers call: it creates
// sessions on login, validates (and renews) sessions on each request,
// verifies CSRF on mutations, and handles revocation. It decides only
// whether the caller is who they claim to be and whether the request is
// safe from forgery — never what an authenticated request may do.
type Engine struct {
	config  Config
	store   session.Store
	limiter *rate.Limiter
	guard   csrfGuard
	cookies CookiePolicy
	audit   *auditDispatcher
	metrics *Metrics

	userProvider UserProvider
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped by the
// dispatcher under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// CookiePolicy exposes the configured cookie policy so surrounding code can
// clear cookies on paths the engine does not own.
func (e *Engine) CookiePolicy() CookiePolicy {
	return e.cookies
}

// Store exposes the session store for diagnostics and tests.
func (e *Engine) Store() session.Store {
	return e.store
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// EstablishSession creates a session for a user whose credentials the
// caller has already verified, mints the CSRF token, and sets both cookies
// on the response. Store connectivity failure surfaces as
// [ErrBackendUnavailable]: login fails loudly rather than issuing an
// unstored session.
func (e *Engine) EstablishSession(ctx context.Context, userID int64, w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	if e.userProvider != nil {
		record, err := e.userProvider.GetUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
		}
		if record.Status != AccountActive {
			return nil, ErrSessionCreationFailed
		}
	}

	sess, err := e.store.Create(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			e.metricInc(MetricBackendUnavailable)
			e.emitAudit(ctx, auditEventBackendUnavailable, false, userID, "", err, nil)
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	// CSRF issuance is best effort: a mint or store failure must not fail
	// the login itself. The token can be fetched later via RotateCSRF.
	if token, csrfErr := e.issueCSRF(ctx, sess.SessionID, w, r); csrfErr == nil {
		sess.CSRFToken = token
		e.emitAudit(ctx, auditEventCSRFIssue, true, userID, sess.SessionID, nil, nil)
	} else {
		e.emitAudit(ctx, auditEventCSRFIssue, false, userID, sess.SessionID, csrfErr, nil)
	}

	e.cookies.SetSession(w, sess.SessionID)

	e.metricInc(MetricLogin)
	e.emitAudit(ctx, auditEventLogin, true, userID, sess.SessionID, nil, nil)

	return sess, nil
}

// Validate authenticates one request: it reads the session cookie, applies
// the lazy expiry checks, and runs the renew-if-needed touch. When the
// touch renews, fresh cookies are issued on the response. Backend outage is
// translated to a fail-closed [ErrAuthRequired] — an attacker never gains
// access because the store is degraded — while still being audited
// distinctly for operability.
func (e *Engine) Validate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*SessionInfo, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, ok := SessionIDFromRequest(r)
	if !ok {
		e.metricInc(MetricAuthRequired)
		return nil, ErrAuthRequired
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, e.validateFailure(ctx, sessionID, err)
	}

	touch, err := e.store.Touch(ctx, sessionID)
	if err != nil {
		return nil, e.validateFailure(ctx, sessionID, err)
	}

	if touch.Renewed {
		e.cookies.SetSession(w, sessionID)
		if sess.CSRFToken != "" {
			e.cookies.SetCSRF(w, r, sess.CSRFToken)
		}
		e.metricInc(MetricValidateRenewed)
		e.emitAudit(ctx, auditEventSessionRenewed, true, sess.UserID, sessionID, nil, nil)
	}

	e.metricInc(MetricValidateOK)

	return &SessionInfo{
		UserID:    sess.UserID,
		SessionID: sessionID,
		Renewed:   touch.Renewed,
		IdleTTL:   touch.IdleTTL,
		csrfToken: sess.CSRFToken,
	}, nil
}

// Logout destroys the presented session and clears both cookies. The
// cookies are cleared even when no session was presented or the destroy
// failed: logout must leave the browser signed out.
func (e *Engine) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	defer e.cookies.ClearAll(w, r)

	sessionID, ok := SessionIDFromRequest(r)
	if !ok {
		return nil
	}

	if err := e.store.Destroy(ctx, sessionID); err != nil {
		e.metricInc(MetricBackendUnavailable)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, 0, sessionID, err, nil)
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, 0, sessionID, nil, nil)
	return nil
}

func (e *Engine) validateFailure(ctx context.Context, sessionID string, err error) error {
	if errors.Is(err, session.ErrUnavailable) {
		e.metricInc(MetricBackendUnavailable)
		e.emitAudit(ctx, auditEventBackendUnavailable, false, 0, sessionID, err, nil)
		// Fail closed: a degraded store reads as "unauthenticated", never
		// as access granted.
		return ErrAuthRequired
	}

	e.metricInc(MetricSessionExpired)
	e.emitAudit(ctx, auditEventSessionExpired, false, 0, sessionID, err, nil)
	return ErrSessionExpired
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	sessionID string,
	cause error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := newAuditEvent(eventType)
	event.UserID = userID
	event.SessionID = sessionID
	event.IP = clientIPFromContext(ctx)
	event.UserAgent = userAgentFromContext(ctx)
	event.Success = success
	if cause != nil {
		event.Error = cause.Error()
	}
	event.Metadata = metadata

	e.audit.Emit(ctx, event)
}

// requestContext folds request provenance into ctx so audit events carry
// client address and user agent.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	if r == nil {
		return ctx
	}
	ctx = WithClientIP(ctx, ClientIP(r))
	return WithUserAgent(ctx, r.UserAgent())
}
