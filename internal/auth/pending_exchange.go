package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultExchangeWindow     = 30 * time.Minute
	defaultExchangeCookieName = "pending_exchange"
)

var (
	// ErrNoPendingExchange reports a missing, expired, tampered or incomplete
	// staged third-party profile.
	ErrNoPendingExchange = errors.New("auth: no pending identity exchange")

	errIncompleteExchange = errors.New("provider and provider id are required")
)

// PendingExchange is a provider-verified profile awaiting account completion.
type PendingExchange struct {
	Provider   Provider
	ProviderID string
	Email      string
	FullName   string
	Username   string
	ExpiresAt  time.Time
}

type pendingExchangeClaims struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Email      string `json:"email,omitempty"`
	FullName   string `json:"full_name,omitempty"`
	Username   string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// ExchangeStagerConfig configures the pending exchange cookie.
type ExchangeStagerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Window        time.Duration
	Cookies       CookieConfig
	Clock         func() time.Time
}

// ExchangeStager stages provider profiles in a short-lived signed cookie.
type ExchangeStager struct {
	signer     signer
	cookieName string
	window     time.Duration
	cookies    CookieConfig
}

// NewExchangeStager constructs an ExchangeStager.
func NewExchangeStager(cfg ExchangeStagerConfig) (*ExchangeStager, error) {
	window := cfg.Window
	if window <= 0 {
		window = DefaultExchangeWindow
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultExchangeCookieName
	}
	tokenSigner, err := newSigner(cfg.SigningSecret, strings.TrimSpace(cfg.Issuer), audiencePendingExchange, cfg.Clock)
	if err != nil {
		return nil, err
	}
	return &ExchangeStager{
		signer:     tokenSigner,
		cookieName: cookieName,
		window:     window,
		cookies:    cfg.Cookies,
	}, nil
}

// Window reports how long a staged exchange stays valid.
func (s *ExchangeStager) Window() time.Duration {
	return s.window
}

// Stage signs pending into a cookie valid for the configured window.
func (s *ExchangeStager) Stage(pending PendingExchange) (*http.Cookie, error) {
	providerID := strings.TrimSpace(pending.ProviderID)
	if pending.Provider == "" || providerID == "" {
		return nil, errIncompleteExchange
	}
	registered := s.signer.registered(providerID, s.window)
	signed, err := s.signer.sign(pendingExchangeClaims{
		Provider:         pending.Provider.String(),
		ProviderID:       providerID,
		Email:            pending.Email,
		FullName:         pending.FullName,
		Username:         pending.Username,
		RegisteredClaims: registered,
	})
	if err != nil {
		return nil, err
	}
	return s.cookies.Build(s.cookieName, signed, s.window), nil
}

// Read returns the staged exchange carried by r.
func (s *ExchangeStager) Read(r *http.Request) (PendingExchange, error) {
	value := cookieValue(r, s.cookieName)
	if value == "" {
		return PendingExchange{}, ErrNoPendingExchange
	}
	claims := &pendingExchangeClaims{}
	if err := s.signer.parse(value, claims); err != nil {
		return PendingExchange{}, ErrNoPendingExchange
	}
	provider, err := ParseProvider(claims.Provider)
	if err != nil || strings.TrimSpace(claims.ProviderID) == "" {
		return PendingExchange{}, ErrNoPendingExchange
	}
	return PendingExchange{
		Provider:   provider,
		ProviderID: claims.ProviderID,
		Email:      claims.Email,
		FullName:   claims.FullName,
		Username:   claims.Username,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Clear returns a cookie that discards the staged exchange.
func (s *ExchangeStager) Clear() *http.Cookie {
	return s.cookies.Expire(s.cookieName)
}
