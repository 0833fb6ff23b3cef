package authcore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glowme/authcore/session"
)

func newTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Cookie.Domain = ""
	cfg.Cookie.Secure = false
	cfg.CSRF.Mode = CSRFEnforced
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithStore(session.NewMemoryStore(cfg.Session)).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// login runs EstablishSession and returns a request carrying the cookies
// the login response set, ready for authenticated follow-up calls.
func login(t *testing.T, engine *Engine, userID int64) (*session.Session, *http.Request) {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)

	sess, err := engine.EstablishSession(context.Background(), userID, w, r)
	if err != nil {
		t.Fatalf("EstablishSession failed: %v", err)
	}

	return sess, requestWithCookies(t, http.MethodGet, "/me", w)
}

func requestWithCookies(t *testing.T, method, target string, from *httptest.ResponseRecorder) *http.Request {
	t.Helper()

	r := httptest.NewRequest(method, target, nil)
	for _, c := range from.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return r
}

func cookieByName(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()

	var found *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	if found == nil {
		t.Fatalf("response did not set cookie %q", name)
	}
	return found
}

func TestEstablishSessionSetsBothCookies(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)

	sess, err := engine.EstablishSession(context.Background(), 42, w, r)
	if err != nil {
		t.Fatalf("EstablishSession failed: %v", err)
	}
	if sess.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", sess.UserID)
	}
	if sess.CSRFToken == "" {
		t.Fatal("no CSRF token minted at login")
	}

	sc := cookieByName(t, w, SessionCookieName)
	if sc.Value != sess.SessionID {
		t.Fatalf("session cookie = %q, want %q", sc.Value, sess.SessionID)
	}
	if !sc.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}

	cc := cookieByName(t, w, CSRFCookieName)
	if cc.Value != sess.CSRFToken {
		t.Fatalf("csrf cookie = %q, want %q", cc.Value, sess.CSRFToken)
	}
	if cc.HttpOnly {
		t.Fatal("csrf cookie must be readable by script")
	}
}

func TestEstablishSessionRejectsDisabledAccount(t *testing.T) {
	cfg := newTestConfig()
	engine, err := New().
		WithConfig(cfg).
		WithStore(session.NewMemoryStore(cfg.Session)).
		WithUserProvider(staticUserProvider{
			42: {UserID: 42, Status: AccountActive},
			43: {UserID: 43, Status: AccountDisabled},
		}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)

	if _, err := engine.EstablishSession(context.Background(), 42, w, r); err != nil {
		t.Fatalf("active account rejected: %v", err)
	}
	if _, err := engine.EstablishSession(context.Background(), 43, w, r); !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("disabled account = %v, want ErrSessionCreationFailed", err)
	}
	if _, err := engine.EstablishSession(context.Background(), 99, w, r); !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("unknown account = %v, want ErrSessionCreationFailed", err)
	}
}

type staticUserProvider map[int64]UserRecord

func (p staticUserProvider) GetUserByID(ctx context.Context, userID int64) (UserRecord, error) {
	rec, ok := p[userID]
	if !ok {
		return UserRecord{}, errors.New("no such user")
	}
	return rec, nil
}

func TestEstablishSessionFailsLoudOnBackendOutage(t *testing.T) {
	cfg := newTestConfig()
	engine, err := New().
		WithConfig(cfg).
		WithStore(unavailableStore{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)

	if _, err := engine.EstablishSession(context.Background(), 42, w, r); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("EstablishSession = %v, want ErrBackendUnavailable", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricBackendUnavailable]; got == 0 {
		t.Fatal("backend outage not counted")
	}
}

// unavailableStore simulates a Redis outage on every operation.
type unavailableStore struct{}

func (unavailableStore) Create(context.Context, int64) (*session.Session, error) {
	return nil, session.ErrUnavailable
}
func (unavailableStore) Get(context.Context, string) (*session.Session, error) {
	return nil, session.ErrUnavailable
}
func (unavailableStore) Touch(context.Context, string) (session.TouchResult, error) {
	return session.TouchResult{}, session.ErrUnavailable
}
func (unavailableStore) SetCSRFToken(context.Context, string, string) error {
	return session.ErrUnavailable
}
func (unavailableStore) Destroy(context.Context, string) error { return session.ErrUnavailable }
func (unavailableStore) DestroyAllForUser(context.Context, int64) (int, error) {
	return 0, session.ErrUnavailable
}
func (unavailableStore) ActiveSessionIDs(context.Context, int64) ([]string, error) {
	return nil, session.ErrUnavailable
}
func (unavailableStore) Rotate(context.Context, string) (*session.Session, error) {
	return nil, session.ErrUnavailable
}
func (unavailableStore) Ping(context.Context) error { return session.ErrUnavailable }

func TestValidateWithoutCookie(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/me", nil)

	if _, err := engine.Validate(context.Background(), w, r); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Validate without cookie = %v, want ErrAuthRequired", err)
	}
}

func TestValidateUnknownSession(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged-or-stale"})

	if _, err := engine.Validate(context.Background(), w, r); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Validate unknown session = %v, want ErrSessionExpired", err)
	}
}

func TestValidateHappyPath(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())

	sess, r := login(t, engine, 42)

	w := httptest.NewRecorder()
	info, err := engine.Validate(context.Background(), w, r)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if info.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", info.UserID)
	}
	if info.SessionID != sess.SessionID {
		t.Fatalf("SessionID = %q, want %q", info.SessionID, sess.SessionID)
	}
	if info.Renewed {
		t.Fatal("fresh session renewed immediately after login")
	}
	if info.IdleTTL <= 0 {
		t.Fatalf("IdleTTL = %v, want > 0", info.IdleTTL)
	}
	if info.csrfToken != sess.CSRFToken {
		t.Fatal("Validate did not carry the stored CSRF token")
	}
}

func TestValidateFailsClosedOnBackendOutage(t *testing.T) {
	cfg := newTestConfig()
	engine, err := New().
		WithConfig(cfg).
		WithStore(unavailableStore{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "whatever"})

	if _, err := engine.Validate(context.Background(), w, r); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Validate with backend down = %v, want fail-closed ErrAuthRequired", err)
	}
}

func TestVerifyCSRFEnforced(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	sess, base := login(t, engine, 42)

	w := httptest.NewRecorder()
	info, err := engine.Validate(ctx, w, base)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	mutating := func(header, cookie string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/update", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.SessionID})
		if cookie != "" {
			r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: cookie})
		}
		if header != "" {
			r.Header.Set(CSRFHeaderName, header)
		}
		return r
	}

	// GET bypasses the guard entirely.
	get := httptest.NewRequest(http.MethodGet, "/me", nil)
	if err := engine.VerifyCSRF(ctx, get, info); err != nil {
		t.Fatalf("GET was CSRF-checked: %v", err)
	}

	tok := sess.CSRFToken
	cases := []struct {
		name    string
		header  string
		cookie  string
		wantErr error
	}{
		{"all three match", tok, tok, nil},
		{"header missing", "", tok, ErrCSRFMissing},
		{"cookie missing", tok, "", ErrCSRFCookieMissing},
		{"header cookie mismatch", tok, "different", ErrCSRFInvalid},
		{"matching pair unknown to server", "forged", "forged", ErrCSRFInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.VerifyCSRF(ctx, mutating(tc.header, tc.cookie), info)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("VerifyCSRF = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestVerifyCSRFShadowModeLetsFailuresThrough(t *testing.T) {
	cfg := newTestConfig()
	cfg.CSRF.Mode = CSRFShadow
	engine := newTestEngine(t, cfg)
	ctx := context.Background()

	_, base := login(t, engine, 42)
	w := httptest.NewRecorder()
	info, err := engine.Validate(ctx, w, base)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/update", nil)
	if err := engine.VerifyCSRF(ctx, r, info); err != nil {
		t.Fatalf("shadow mode blocked the request: %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricCSRFShadowMiss]; got != 1 {
		t.Fatalf("shadow misses = %d, want 1", got)
	}
}

func TestRotateCSRFInvalidatesOldToken(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	sess, base := login(t, engine, 42)
	w := httptest.NewRecorder()
	info, err := engine.Validate(ctx, w, base)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	oldToken := sess.CSRFToken

	rw := httptest.NewRecorder()
	newToken, err := engine.RotateCSRF(ctx, rw, base, info)
	if err != nil {
		t.Fatalf("RotateCSRF failed: %v", err)
	}
	if newToken == oldToken {
		t.Fatal("rotation produced the same token")
	}
	if cc := cookieByName(t, rw, CSRFCookieName); cc.Value != newToken {
		t.Fatalf("csrf cookie = %q, want rotated token", cc.Value)
	}

	mutating := func(tok string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/update", nil)
		r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: tok})
		r.Header.Set(CSRFHeaderName, tok)
		return r
	}

	// A tab still holding the pre-rotation token is rejected on the
	// three-way check even though its header and cookie agree.
	if err := engine.VerifyCSRF(ctx, mutating(oldToken), info); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("old token = %v, want ErrCSRFInvalid", err)
	}
	if err := engine.VerifyCSRF(ctx, mutating(newToken), info); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
}

func TestRotateCSRFOnDeadSession(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	_, base := login(t, engine, 42)
	w := httptest.NewRecorder()
	info, err := engine.Validate(ctx, w, base)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if err := engine.Store().Destroy(ctx, info.SessionID); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if _, err := engine.RotateCSRF(ctx, httptest.NewRecorder(), base, info); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("RotateCSRF on dead session = %v, want ErrSessionExpired", err)
	}
}

func TestLogoutDestroysSessionAndClearsCookies(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	sess, r := login(t, engine, 42)

	w := httptest.NewRecorder()
	if err := engine.Logout(ctx, w, r); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := engine.Store().Get(ctx, sess.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session still live after logout: %v", err)
	}

	for _, name := range []string{SessionCookieName, CSRFCookieName} {
		if c := cookieByName(t, w, name); c.MaxAge >= 0 {
			t.Fatalf("cookie %q not expired: MaxAge = %d", name, c.MaxAge)
		}
	}
}

func TestLogoutWithoutSessionStillClearsCookies(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/logout", nil)

	if err := engine.Logout(context.Background(), w, r); err != nil {
		t.Fatalf("Logout without session failed: %v", err)
	}
	cookieByName(t, w, SessionCookieName)
	cookieByName(t, w, CSRFCookieName)
}

func TestLogoutAll(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	// Three concurrent sessions for the same account.
	var infos []*SessionInfo
	for i := 0; i < 3; i++ {
		_, r := login(t, engine, 7)
		info, err := engine.Validate(ctx, httptest.NewRecorder(), r)
		if err != nil {
			t.Fatalf("Validate %d failed: %v", i, err)
		}
		infos = append(infos, info)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/logout-all", nil)
	result, err := engine.LogoutAll(ctx, w, r, infos[0])
	if err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if result.Revoked != 3 {
		t.Fatalf("Revoked = %d, want 3", result.Revoked)
	}
	if !result.SelfIncluded {
		t.Fatal("logout-all must revoke the caller's own session")
	}

	for _, info := range infos {
		if _, err := engine.Store().Get(ctx, info.SessionID); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("session %s survived logout-all: %v", info.SessionID, err)
		}
	}
}

func TestLogoutAllDisabledByFlag(t *testing.T) {
	cfg := newTestConfig()
	cfg.RevocationEnabled = false
	engine := newTestEngine(t, cfg)
	ctx := context.Background()

	_, r := login(t, engine, 7)
	info, err := engine.Validate(ctx, httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if _, err := engine.LogoutAll(ctx, httptest.NewRecorder(), r, info); !errors.Is(err, ErrRevocationDisabled) {
		t.Fatalf("LogoutAll with flag off = %v, want ErrRevocationDisabled", err)
	}
	if ReasonCode(ErrRevocationDisabled) != CodeFeatureDisabled {
		t.Fatalf("reason code = %q, want FEATURE_DISABLED", ReasonCode(ErrRevocationDisabled))
	}
}

func TestRevokeOthersAndRotate(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	// Caller's session plus two others on the same account.
	_, callerReq := login(t, engine, 9)
	info, err := engine.Validate(ctx, httptest.NewRecorder(), callerReq)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	oldID := info.SessionID

	var otherIDs []string
	for i := 0; i < 2; i++ {
		sess, _ := login(t, engine, 9)
		otherIDs = append(otherIDs, sess.SessionID)
	}

	w := httptest.NewRecorder()
	result, err := engine.RevokeOthersAndRotate(ctx, w, callerReq, info)
	if err != nil {
		t.Fatalf("RevokeOthersAndRotate failed: %v", err)
	}
	if result.Revoked != 2 {
		t.Fatalf("Revoked = %d, want 2", result.Revoked)
	}
	if result.Rotated == nil {
		t.Fatal("no rotated session returned")
	}
	if result.Rotated.SessionID == oldID {
		t.Fatal("rotation reused the old session id")
	}
	if info.SessionID != result.Rotated.SessionID {
		t.Fatal("caller's SessionInfo not updated to the rotated id")
	}

	// Old id and the other sessions are all dead; the rotated one is live.
	for _, sid := range append(otherIDs, oldID) {
		if _, err := engine.Store().Get(ctx, sid); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("session %s survived password-change revocation: %v", sid, err)
		}
	}
	if _, err := engine.Store().Get(ctx, result.Rotated.SessionID); err != nil {
		t.Fatalf("rotated session not live: %v", err)
	}

	// The response carries the new cookies.
	if sc := cookieByName(t, w, SessionCookieName); sc.Value != result.Rotated.SessionID {
		t.Fatalf("session cookie = %q, want rotated id", sc.Value)
	}
	if cc := cookieByName(t, w, CSRFCookieName); cc.Value == "" || cc.Value != result.Rotated.CSRFToken {
		t.Fatal("csrf cookie not re-issued for the rotated session")
	}
}

func TestLoginRateLimitFlow(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, MaxFails: 3, Window: time.Minute}
	engine := newTestEngine(t, cfg)

	attacker := httptest.NewRequest(http.MethodPost, "/login", nil)
	attacker.RemoteAddr = "10.0.0.1:54321"

	for i := 0; i < 3; i++ {
		if _, err := engine.CheckLoginAllowed(attacker, "alice@glowme.io"); err != nil {
			t.Fatalf("attempt %d rejected early: %v", i, err)
		}
		engine.RecordLoginFailure(attacker, "alice@glowme.io")
	}

	retry, err := engine.CheckLoginAllowed(attacker, "alice@glowme.io")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th attempt = %v, want ErrRateLimited", err)
	}
	if retry <= 0 {
		t.Fatalf("retry-after = %v, want > 0", retry)
	}

	// A different client address is unaffected.
	other := httptest.NewRequest(http.MethodPost, "/login", nil)
	other.RemoteAddr = "10.0.0.2:54321"
	if _, err := engine.CheckLoginAllowed(other, "alice@glowme.io"); err != nil {
		t.Fatalf("unrelated address limited: %v", err)
	}

	if got := engine.MetricsSnapshot().Counters[MetricRateLimited]; got == 0 {
		t.Fatal("rate-limit rejection not counted")
	}
}

func TestSessionDiagnostics(t *testing.T) {
	engine := newTestEngine(t, newTestConfig())
	ctx := context.Background()

	_, r := login(t, engine, 42)
	info, err := engine.Validate(ctx, httptest.NewRecorder(), r)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	diag, err := engine.SessionDiagnostics(ctx, info)
	if err != nil {
		t.Fatalf("SessionDiagnostics failed: %v", err)
	}
	if diag.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", diag.UserID)
	}
	if diag.Backend != string(session.BackendMemory) {
		t.Fatalf("Backend = %q, want memory", diag.Backend)
	}
	if diag.IdleTTL <= 0 || diag.AbsoluteRemaining <= 0 {
		t.Fatalf("timers not populated: %+v", diag)
	}
	if len(diag.SessionIDPrefix) != sessionIDRedactLen+3 {
		t.Fatalf("SessionIDPrefix = %q, want redacted prefix", diag.SessionIDPrefix)
	}
	if diag.SessionIDPrefix[:sessionIDRedactLen] != info.SessionID[:sessionIDRedactLen] {
		t.Fatal("redacted prefix does not match the session id")
	}

	if _, err := engine.SessionDiagnostics(ctx, nil); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("diagnostics without session = %v, want ErrAuthRequired", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	cfg := newTestConfig()
	b := New().WithConfig(cfg).WithStore(session.NewMemoryStore(cfg.Session))

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build on one builder succeeded")
	}
}

func TestAuditEventsFlowToSink(t *testing.T) {
	cfg := newTestConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(16)

	engine, err := New().
		WithConfig(cfg).
		WithStore(session.NewMemoryStore(cfg.Session)).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	r.Header.Set("User-Agent", "glow-test/1.0")

	ctx := requestContext(context.Background(), r)
	sess, err := engine.EstablishSession(ctx, 42, w, r)
	if err != nil {
		t.Fatalf("EstablishSession failed: %v", err)
	}
	engine.Close()

	var events []AuditEvent
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
			continue
		default:
		}
		break
	}

	var sawLogin bool
	for _, ev := range events {
		if ev.EventType != auditEventLogin {
			continue
		}
		sawLogin = true
		if ev.EventID == "" {
			t.Fatal("login event missing id")
		}
		if ev.UserID != 42 || ev.SessionID != sess.SessionID {
			t.Fatalf("login event = %+v, want user 42 session %s", ev, sess.SessionID)
		}
		if ev.IP != "10.0.0.1" {
			t.Fatalf("login event IP = %q, want 10.0.0.1", ev.IP)
		}
		if ev.UserAgent != "glow-test/1.0" {
			t.Fatalf("login event UserAgent = %q", ev.UserAgent)
		}
	}
	if !sawLogin {
		t.Fatalf("no login event among %d events", len(events))
	}
}
