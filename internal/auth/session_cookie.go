package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultSessionCookieName = "session"

var ErrMissingSessionIssuer = errors.New("session cookies: issuer required")

// SessionCookiesConfig describes how sessions travel as cookies.
type SessionCookiesConfig struct {
	Issuer     *SessionIssuer
	CookieName string
	Cookies    CookieConfig
}

// SessionCookies binds a SessionIssuer to the session cookie.
type SessionCookies struct {
	issuer     *SessionIssuer
	cookieName string
	cookies    CookieConfig
}

// NewSessionCookies constructs the session cookie transport.
func NewSessionCookies(cfg SessionCookiesConfig) (*SessionCookies, error) {
	if cfg.Issuer == nil {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieName
	}
	return &SessionCookies{
		issuer:     cfg.Issuer,
		cookieName: cookieName,
		cookies:    cfg.Cookies,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (s *SessionCookies) CookieName() string {
	return s.cookieName
}

// Issue mints a session for userID and wraps it in a Set-Cookie value.
// Remembered sessions persist across browser restarts; others end with the browser session.
func (s *SessionCookies) Issue(userID string, opts MintOptions) (*http.Cookie, Session, error) {
	session, err := s.issuer.Mint(userID, opts)
	if err != nil {
		return nil, Session{}, err
	}
	var maxAge time.Duration
	if opts.ExtendedLifetime {
		maxAge = s.issuer.Lifetime(opts)
	}
	return s.cookies.Build(s.cookieName, session.Token, maxAge), session, nil
}

// Read extracts and verifies the session cookie. Absent and invalid cookies both
// yield ErrInvalidSession.
func (s *SessionCookies) Read(r *http.Request) (string, error) {
	return s.issuer.Verify(cookieValue(r, s.cookieName))
}

// Clear returns a cookie that ends the session on the client.
func (s *SessionCookies) Clear() *http.Cookie {
	return s.cookies.Expire(s.cookieName)
}
