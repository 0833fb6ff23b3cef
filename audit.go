package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one security-relevant outcome: login, logout, revocation,
// CSRF decision, rate-limit hit, or backend outage. Events carry request
// provenance (client address, user agent) for audit purposes; they are
// observable side effects, not part of the HTTP return contract.
type AuditEvent struct {
	EventID   string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    int64             `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

// Emit implements [AuditSink].
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel for consumption by the
// embedding application.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit implements [AuditSink].
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receiving side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an [io.Writer].
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit implements [AuditSink].
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

func newAuditEvent(eventType string) AuditEvent {
	return AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
	}
}

// Audit event types emitted by the engine.
const (
	auditEventLogin              = "login"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventPasswordRevocation = "password_change_revocation"
	auditEventSessionRenewed     = "session_renewed"
	auditEventSessionExpired     = "session_expired"
	auditEventCSRFIssue          = "csrf_issue"
	auditEventCSRFRotate         = "csrf_rotate"
	auditEventCSRFFail           = "csrf_fail"
	auditEventCSRFShadowMiss     = "csrf_shadow_would_block"
	auditEventRateLimited        = "login_rate_limited"
	auditEventRateLimitRecorded  = "login_failure_recorded"
	auditEventRateLimitCleared   = "login_failures_cleared"
	auditEventBackendUnavailable = "backend_unavailable"
)
