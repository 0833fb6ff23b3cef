package authcore

import (
	"net/http"
	"strconv"
	"time"
)

// CheckLoginAllowed is the admission check run before credential
// verification. It returns [ErrRateLimited] with a caller-facing
// retry-after when either the IP bucket or the (IP, account) bucket is
// full. With the limiter disabled every attempt is admitted — slowing
// credential stuffing is a soft property and unavailability must never
// block legitimate logins.
func (e *Engine) CheckLoginAllowed(r *http.Request, account string) (time.Duration, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}

	decision := e.limiter.Check(ClientIP(r), account)
	if !decision.Limited {
		return 0, nil
	}

	ctx := requestContext(r.Context(), r)
	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimited, false, 0, "", ErrRateLimited, map[string]string{
		"scope":       decision.Scope,
		"hits":        strconv.Itoa(decision.Hits),
		"retry_after": strconv.Itoa(int(decision.RetryAfter.Seconds())),
	})

	return decision.RetryAfter, ErrRateLimited
}

// RecordLoginFailure appends the attempt to both buckets after a failed
// credential check.
func (e *Engine) RecordLoginFailure(r *http.Request, account string) {
	if e == nil || e.limiter == nil || !e.limiter.Enabled() {
		return
	}

	e.limiter.RecordFailure(ClientIP(r), account)
	e.emitAudit(requestContext(r.Context(), r), auditEventRateLimitRecorded, true, 0, "", nil, nil)
}

// ClearLoginFailures resets the (IP, account) bucket after a successful
// login. The IP-wide bucket is deliberately left intact.
func (e *Engine) ClearLoginFailures(r *http.Request, account string) {
	if e == nil || e.limiter == nil || !e.limiter.Enabled() {
		return
	}

	e.limiter.ClearOnSuccess(ClientIP(r), account)
	e.emitAudit(requestContext(r.Context(), r), auditEventRateLimitCleared, true, 0, "", nil, nil)
}
