package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process session backend for development and
// single-instance deployments. One mutex serializes every operation; there
// is no external shared state, so nothing finer is needed.
type MemoryStore struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[int64]map[string]struct{}

	// now is swapped in tests to simulate the clock.
	now func() time.Time
}

// NewMemoryStore creates an empty [MemoryStore]. Prefer constructing
// through [New] so the backend choice stays a startup decision.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
		byUser:   make(map[int64]map[string]struct{}),
		now:      time.Now,
	}
}

// Create persists a fresh session and registers it in the user's index.
func (s *MemoryStore) Create(ctx context.Context, userID int64) (*Session, error) {
	sess, err := newSession(userID, s.now(), s.cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.SessionID] = sess
	idx := s.byUser[userID]
	if idx == nil {
		idx = make(map[string]struct{})
		s.byUser[userID] = idx
	}
	idx[sess.SessionID] = struct{}{}

	copied := *sess
	return &copied, nil
}

// Get applies both lazy expiry checks and returns a copy of the record.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveLocked(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	copied := *sess
	return &copied, nil
}

// Touch renews the session when remaining idle time is at or below the
// threshold; see [Store].
func (s *MemoryStore) Touch(ctx context.Context, sessionID string) (TouchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveLocked(sessionID)
	if !ok {
		return TouchResult{}, ErrNotFound
	}

	now := s.now()
	remaining := s.idleRemainingLocked(sess, now)
	if remaining > s.cfg.RenewThreshold {
		return TouchResult{IdleTTL: remaining}, nil
	}

	sess.LastSeenAt = now.Unix()
	renewed := s.idleRemainingLocked(sess, now)
	return TouchResult{Renewed: true, IdleTTL: renewed}, nil
}

// SetCSRFToken stores the server-side CSRF token on a live session.
func (s *MemoryStore) SetCSRFToken(ctx context.Context, sessionID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.liveLocked(sessionID)
	if !ok {
		return ErrNotFound
	}

	sess.CSRFToken = token
	return nil
}

// Destroy removes the session and its index entry. Idempotent.
func (s *MemoryStore) Destroy(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyLocked(sessionID)
	return nil
}

// DestroyAllForUser removes every live session for a user and returns the
// count destroyed.
func (s *MemoryStore) DestroyAllForUser(ctx context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.byUser[userID]
	if len(idx) == 0 {
		return 0, nil
	}

	var destroyed int
	for sid := range idx {
		if _, ok := s.sessions[sid]; ok {
			delete(s.sessions, sid)
			destroyed++
		}
	}
	delete(s.byUser, userID)

	return destroyed, nil
}

// ActiveSessionIDs returns the tracked session IDs for a user.
func (s *MemoryStore) ActiveSessionIDs(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.byUser[userID]
	ids := make([]string, 0, len(idx))
	for sid := range idx {
		ids = append(ids, sid)
	}
	return ids, nil
}

// Rotate issues a fresh session for the old session's user and destroys
// the old record.
func (s *MemoryStore) Rotate(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.liveLocked(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	fresh, err := newSession(old.UserID, s.now(), s.cfg)
	if err != nil {
		return nil, err
	}

	s.sessions[fresh.SessionID] = fresh
	idx := s.byUser[fresh.UserID]
	if idx == nil {
		idx = make(map[string]struct{})
		s.byUser[fresh.UserID] = idx
	}
	idx[fresh.SessionID] = struct{}{}

	s.destroyLocked(sessionID)

	copied := *fresh
	return &copied, nil
}

// Ping always succeeds: the memory backend cannot be unreachable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// liveLocked resolves a session id to a live record, lazily destroying it
// when either expiry check fails. Caller holds s.mu.
func (s *MemoryStore) liveLocked(sessionID string) (*Session, bool) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}

	now := s.now().Unix()
	if now > sess.AbsoluteExpiresAt {
		s.destroyLocked(sessionID)
		return nil, false
	}
	if now-sess.LastSeenAt > int64(s.cfg.IdleWindow/time.Second) {
		s.destroyLocked(sessionID)
		return nil, false
	}

	return sess, true
}

func (s *MemoryStore) idleRemainingLocked(sess *Session, now time.Time) time.Duration {
	idleDeadline := time.Unix(sess.LastSeenAt, 0).Add(s.cfg.IdleWindow)
	absDeadline := time.Unix(sess.AbsoluteExpiresAt, 0)
	if absDeadline.Before(idleDeadline) {
		idleDeadline = absDeadline
	}

	remaining := idleDeadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (s *MemoryStore) destroyLocked(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}

	delete(s.sessions, sessionID)
	if idx := s.byUser[sess.UserID]; idx != nil {
		delete(idx, sessionID)
		if len(idx) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}
