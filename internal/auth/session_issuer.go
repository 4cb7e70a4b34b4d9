package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionLifetime  = 24 * time.Hour
	ExtendedSessionLifetime = 30 * 24 * time.Hour
)

var (
	// ErrInvalidSession is the only error Verify reports. Tampered, expired and
	// malformed tokens are deliberately indistinguishable.
	ErrInvalidSession = errors.New("auth: invalid session")

	errMissingSubjectClaim = errors.New("subject claim must be provided")
	errInvalidLifetime     = errors.New("session lifetimes must be positive")
)

// SessionIssuerConfig configures the session token issuer.
type SessionIssuerConfig struct {
	SigningSecret    []byte
	Issuer           string
	DefaultLifetime  time.Duration
	ExtendedLifetime time.Duration
	Clock            func() time.Time
}

// MintOptions selects the lifetime of a minted session.
type MintOptions struct {
	ExtendedLifetime bool
}

// Session is a freshly minted session token and its metadata.
type Session struct {
	Token     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extended  bool
}

type sessionClaims struct {
	Extended bool `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies stateless session tokens.
type SessionIssuer struct {
	signer           signer
	defaultLifetime  time.Duration
	extendedLifetime time.Duration
}

// NewSessionIssuer constructs a SessionIssuer, defaulting unset lifetimes.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	defaultLifetime := cfg.DefaultLifetime
	if defaultLifetime == 0 {
		defaultLifetime = DefaultSessionLifetime
	}
	extendedLifetime := cfg.ExtendedLifetime
	if extendedLifetime == 0 {
		extendedLifetime = ExtendedSessionLifetime
	}
	if defaultLifetime < 0 || extendedLifetime < 0 {
		return nil, errInvalidLifetime
	}

	tokenSigner, err := newSigner(cfg.SigningSecret, strings.TrimSpace(cfg.Issuer), audienceSession, cfg.Clock)
	if err != nil {
		return nil, err
	}

	return &SessionIssuer{
		signer:           tokenSigner,
		defaultLifetime:  defaultLifetime,
		extendedLifetime: extendedLifetime,
	}, nil
}

// Lifetime reports the token lifetime used for the given options.
func (i *SessionIssuer) Lifetime(opts MintOptions) time.Duration {
	if opts.ExtendedLifetime {
		return i.extendedLifetime
	}
	return i.defaultLifetime
}

// Mint produces a signed session token bound to userID.
func (i *SessionIssuer) Mint(userID string, opts MintOptions) (Session, error) {
	subject := strings.TrimSpace(userID)
	if subject == "" {
		return Session{}, errMissingSubjectClaim
	}

	registered := i.signer.registered(subject, i.Lifetime(opts))
	registered.ID = uuid.NewString()

	signed, err := i.signer.sign(sessionClaims{
		Extended:         opts.ExtendedLifetime,
		RegisteredClaims: registered,
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     signed,
		UserID:    subject,
		IssuedAt:  registered.IssuedAt.Time,
		ExpiresAt: registered.ExpiresAt.Time,
		Extended:  opts.ExtendedLifetime,
	}, nil
}

// Verify returns the user id embedded in a valid, unexpired token.
func (i *SessionIssuer) Verify(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrInvalidSession
	}
	claims := &sessionClaims{}
	if err := i.signer.parse(token, claims); err != nil {
		return "", ErrInvalidSession
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}
