package authcore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

const csrfTokenRawSize = 32

// MintCSRFToken returns a cryptographically random CSRF token
// (256 bits, base64url without padding).
func MintCSRFToken() (string, error) {
	var raw [csrfTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// csrfGuard implements the double-submit-cookie pattern with a three-way
// comparison: request header, CSRF cookie, and the token stored server-side
// on the session record must all be present and pairwise equal. The third
// leg defeats pure cookie-replay by an attacker who can set (but not read)
// cookies, e.g. via subdomain cookie injection.
type csrfGuard struct {
	cfg CSRFConfig
}

func newCSRFGuard(cfg CSRFConfig) csrfGuard {
	if cfg.Header == "" {
		cfg.Header = CSRFHeaderName
	}
	return csrfGuard{cfg: cfg}
}

func (g csrfGuard) enforced() bool {
	return g.cfg.Mode == CSRFEnforced
}

// isMutating reports whether a method has side effects. Read-only requests
// bypass CSRF verification entirely: forgery only matters for actions with
// side effects.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// verify performs the three-way comparison and returns the matching
// sentinel error on failure. storedToken is the token held on the session
// record; empty means CSRF was never issued for this session.
func (g csrfGuard) verify(r *http.Request, storedToken string) error {
	header := r.Header.Get(g.cfg.Header)
	if header == "" {
		return ErrCSRFMissing
	}

	cookie, ok := CSRFCookieFromRequest(r)
	if !ok {
		return ErrCSRFCookieMissing
	}

	if !tokensEqual(header, cookie) {
		return ErrCSRFInvalid
	}
	if storedToken == "" || !tokensEqual(header, storedToken) {
		return ErrCSRFInvalid
	}

	return nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
