package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultVerifiedEmailLifetime   = 10 * time.Minute
	defaultVerifiedEmailCookieName = "verified_email"
)

// ErrNoVerifiedEmail reports that the request carries no usable verified-email token.
var ErrNoVerifiedEmail = errors.New("auth: no verified email")

// VerifiedEmailsConfig configures the verified-email cookie.
type VerifiedEmailsConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Lifetime      time.Duration
	Cookies       CookieConfig
	Clock         func() time.Time
}

// VerifiedEmails reads the token left behind by the email verification step.
type VerifiedEmails struct {
	signer     signer
	cookieName string
	lifetime   time.Duration
	cookies    CookieConfig
}

// NewVerifiedEmails constructs a VerifiedEmails codec.
func NewVerifiedEmails(cfg VerifiedEmailsConfig) (*VerifiedEmails, error) {
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = defaultVerifiedEmailLifetime
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultVerifiedEmailCookieName
	}
	tokenSigner, err := newSigner(cfg.SigningSecret, strings.TrimSpace(cfg.Issuer), audienceVerifiedEmail, cfg.Clock)
	if err != nil {
		return nil, err
	}
	return &VerifiedEmails{
		signer:     tokenSigner,
		cookieName: cookieName,
		lifetime:   lifetime,
		cookies:    cfg.Cookies,
	}, nil
}

// Issue returns a cookie vouching that email was verified.
func (v *VerifiedEmails) Issue(email string) (*http.Cookie, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return nil, errMissingSubjectClaim
	}
	signed, err := v.signer.sign(v.signer.registered(normalized, v.lifetime))
	if err != nil {
		return nil, err
	}
	return v.cookies.Build(v.cookieName, signed, v.lifetime), nil
}

// Read returns the verified email carried by r.
func (v *VerifiedEmails) Read(r *http.Request) (string, error) {
	value := cookieValue(r, v.cookieName)
	if value == "" {
		return "", ErrNoVerifiedEmail
	}
	claims := &jwt.RegisteredClaims{}
	if err := v.signer.parse(value, claims); err != nil {
		return "", ErrNoVerifiedEmail
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrNoVerifiedEmail
	}
	return claims.Subject, nil
}

// Clear returns a cookie that discards the verified-email token.
func (v *VerifiedEmails) Clear() *http.Cookie {
	return v.cookies.Expire(v.cookieName)
}
