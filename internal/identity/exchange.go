package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultStateCookieName = "oauth_state"
	stateLifetime          = 10 * time.Minute
	stateBytes             = 16
)

// ExchangeConfig wires provider connectors to the pending-exchange cookie.
type ExchangeConfig struct {
	Connectors      []Connector
	Stager          *auth.ExchangeStager
	Cookies         auth.CookieConfig
	StateCookieName string
	// HTTPClient is used for token and profile requests; nil uses http.DefaultClient.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Exchange runs the third-party sign-in handshake and stages its result.
type Exchange struct {
	connectors      map[auth.Provider]Connector
	stager          *auth.ExchangeStager
	cookies         auth.CookieConfig
	stateCookieName string
	httpClient      *http.Client
	logger          *zap.Logger
}

// NewExchange constructs an Exchange. Connectors may be empty; providers without
// one report ErrProviderNotConfigured.
func NewExchange(cfg ExchangeConfig) (*Exchange, error) {
	if cfg.Stager == nil {
		return nil, errors.New("identity: exchange stager required")
	}
	connectors := make(map[auth.Provider]Connector, len(cfg.Connectors))
	for _, connector := range cfg.Connectors {
		if connector == nil {
			continue
		}
		connectors[connector.Provider()] = connector
	}
	stateCookieName := strings.TrimSpace(cfg.StateCookieName)
	if stateCookieName == "" {
		stateCookieName = defaultStateCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		connectors:      connectors,
		stager:          cfg.Stager,
		cookies:         cfg.Cookies,
		stateCookieName: stateCookieName,
		httpClient:      cfg.HTTPClient,
		logger:          logger,
	}, nil
}

// Configured reports whether provider has a connector.
func (e *Exchange) Configured(provider auth.Provider) bool {
	_, ok := e.connectors[provider]
	return ok
}

// Window reports how long a staged exchange remains usable.
func (e *Exchange) Window() time.Duration {
	return e.stager.Window()
}

// Begin returns the provider authorize URL and the state cookie binding the callback.
func (e *Exchange) Begin(provider auth.Provider) (string, *http.Cookie, error) {
	connector, ok := e.connectors[provider]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	state, err := newState()
	if err != nil {
		return "", nil, err
	}
	return connector.AuthCodeURL(state), e.cookies.Build(e.stateCookieName, state, stateLifetime), nil
}

// Complete validates the callback request and exchanges its code for a profile.
func (e *Exchange) Complete(ctx context.Context, provider auth.Provider, r *http.Request) (Profile, error) {
	connector, ok := e.connectors[provider]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	query := r.URL.Query()
	expected := ""
	if cookie, err := r.Cookie(e.stateCookieName); err == nil {
		expected = cookie.Value
	}
	received := query.Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return Profile{}, ErrStateMismatch
	}
	if providerError := query.Get("error"); providerError != "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrExchangeFailed, providerError)
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		return Profile{}, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}
	profile, err := connector.Exchange(ctx, code)
	if err != nil {
		recordExchange(provider.String(), "error")
		e.logger.Info("provider exchange failed",
			zap.String("operation", "identity.complete"),
			zap.String("provider", provider.String()),
			zap.Error(err),
		)
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if strings.TrimSpace(profile.ProviderID) == "" {
		recordExchange(provider.String(), "error")
		return Profile{}, fmt.Errorf("%w: %v", ErrExchangeFailed, errMissingProviderID)
	}
	recordExchange(provider.String(), "ok")
	profile.Provider = provider
	return profile, nil
}

// ClearState returns a cookie that discards the oauth state.
func (e *Exchange) ClearState() *http.Cookie {
	return e.cookies.Expire(e.stateCookieName)
}

// Stage signs profile into the pending-exchange cookie.
func (e *Exchange) Stage(profile Profile) (*http.Cookie, error) {
	return e.stager.Stage(auth.PendingExchange{
		Provider:   profile.Provider,
		ProviderID: profile.ProviderID,
		Email:      profile.Email,
		FullName:   profile.FullName,
		Username:   profile.Username,
	})
}

// ReadPending returns the staged exchange, or auth.ErrNoPendingExchange.
func (e *Exchange) ReadPending(r *http.Request) (auth.PendingExchange, error) {
	return e.stager.Read(r)
}

// ClearPending returns a cookie that discards the staged exchange.
func (e *Exchange) ClearPending() *http.Cookie {
	return e.stager.Clear()
}

func newState() (string, error) {
	buffer := make([]byte, stateBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
