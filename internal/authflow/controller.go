package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/identity"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"go.uber.org/zap"
)

const (
	flowLogin      = "login"
	flowProvider   = "provider_callback"
	flowOnboarding = "onboarding"
	flowReset      = "reset_password"

	homePath       = "/"
	loginPath      = "/login"
	onboardingPath = "/onboarding"

	// timingDummyPassword feeds the hash compared against when no user matched.
	timingDummyPassword = "timing-equalization-placeholder"
)

var (
	errMissingStore          = errors.New("credential store is required")
	errMissingHasher         = errors.New("password hasher is required")
	errMissingSessions       = errors.New("session cookies are required")
	errMissingExchange       = errors.New("identity exchange is required")
	errMissingVerifiedEmails = errors.New("verified email reader is required")
)

// Store is the credential store contract the flows rely on.
type Store interface {
	FindUserByEmail(ctx context.Context, email string) (users.User, error)
	FindUserByUsername(ctx context.Context, username string) (users.User, error)
	FindUserByID(ctx context.Context, userID string) (users.User, error)
	FindUserByConnection(ctx context.Context, provider, providerID string) (users.User, error)
	CreateUser(ctx context.Context, input users.NewUser) (users.User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// IdentityExchange runs third-party sign-in and stages its result; *identity.Exchange satisfies it.
type IdentityExchange interface {
	Configured(provider auth.Provider) bool
	Begin(provider auth.Provider) (string, *http.Cookie, error)
	Complete(ctx context.Context, provider auth.Provider, r *http.Request) (identity.Profile, error)
	ClearState() *http.Cookie
	Stage(profile identity.Profile) (*http.Cookie, error)
	ReadPending(r *http.Request) (auth.PendingExchange, error)
	ClearPending() *http.Cookie
	Window() time.Duration
}

// Config wires a Controller.
type Config struct {
	Store          Store
	Hasher         auth.PasswordHasher
	Sessions       *auth.SessionCookies
	Exchange       IdentityExchange
	VerifiedEmails *auth.VerifiedEmails
	Cookies        auth.CookieConfig
	Logger         *zap.Logger
}

// Controller drives the login, onboarding and password reset flows.
type Controller struct {
	store     Store
	hasher    auth.PasswordHasher
	sessions  *auth.SessionCookies
	exchange  IdentityExchange
	verified  *auth.VerifiedEmails
	cookies   auth.CookieConfig
	logger    *zap.Logger
	forms     *formValidator
	dummyHash string
}

// NewController validates cfg and prepares the timing dummy hash.
func NewController(cfg Config) (*Controller, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Hasher == nil:
		return nil, errMissingHasher
	case cfg.Sessions == nil:
		return nil, errMissingSessions
	case cfg.Exchange == nil:
		return nil, errMissingExchange
	case cfg.VerifiedEmails == nil:
		return nil, errMissingVerifiedEmails
	}

	forms, err := newFormValidator()
	if err != nil {
		return nil, fmt.Errorf("authflow: form validator: %w", err)
	}
	dummyHash, err := cfg.Hasher.Hash(timingDummyPassword)
	if err != nil {
		return nil, fmt.Errorf("authflow: timing hash: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		store:     cfg.Store,
		hasher:    cfg.Hasher,
		sessions:  cfg.Sessions,
		exchange:  cfg.Exchange,
		verified:  cfg.VerifiedEmails,
		cookies:   cfg.Cookies,
		logger:    logger,
		forms:     forms,
		dummyHash: dummyHash,
	}, nil
}

// CurrentUser resolves the session cookie to a stored user. Invalid sessions and
// vanished users both report ok=false.
func (c *Controller) CurrentUser(ctx context.Context, r *http.Request) (users.User, bool, error) {
	userID, err := c.sessions.Read(r)
	if err != nil {
		return users.User{}, false, nil
	}
	user, err := c.store.FindUserByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, false, nil
	}
	if err != nil {
		return users.User{}, false, err
	}
	return user, true, nil
}

// Logout clears the session cookie and sends the visitor home.
func (c *Controller) Logout() Result {
	return redirect(homePath, c.sessions.Clear())
}

func (c *Controller) issueSession(userID string, opts auth.MintOptions, extra ...*http.Cookie) (Result, error) {
	cookie, session, err := c.sessions.Issue(userID, opts)
	if err != nil {
		return Result{}, fmt.Errorf("authflow: issue session: %w", err)
	}
	recordSession(opts)
	cookies := append(extra, cookie)
	return Result{
		Outcome:    OutcomeAuthenticated,
		RedirectTo: homePath,
		Cookies:    cookies,
		Session:    &session,
	}, nil
}

func (c *Controller) parseForm(r *http.Request) (FormErrors, bool) {
	var errs FormErrors
	if err := r.ParseForm(); err != nil {
		errs.AddForm("Invalid form submission")
		return errs, false
	}
	return errs, true
}

func (c *Controller) logFailure(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	c.logger.Error("auth flow error", append(attrs, fields...)...)
}

func (c *Controller) logRejection(operation, reason string, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	c.logger.Info("auth flow rejected", append(attrs, fields...)...)
}

// finish records the outcome of a flow attempt.
func finish(flow string, result Result, err error) (Result, error) {
	if err != nil {
		recordOutcome(flow, "error")
		return Result{}, err
	}
	recordOutcome(flow, result.Outcome.String())
	return result, nil
}
