package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/identity"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"go.uber.org/zap"
)

// InvalidCredentialsMessage is the only message a failed password sign-in ever shows.
const InvalidCredentialsMessage = "Invalid credentials! Please try again."

// LoginPage sends signed-in visitors home and renders the form for everyone else.
func (c *Controller) LoginPage(ctx context.Context, r *http.Request) (Result, error) {
	_, signedIn, err := c.CurrentUser(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if signedIn {
		return redirect(homePath), nil
	}
	return render(map[string]any{"providers": c.availableProviders()}), nil
}

// Login handles a login form submission.
func (c *Controller) Login(ctx context.Context, r *http.Request) (Result, error) {
	result, err := c.login(ctx, r)
	return finish(flowLogin, result, err)
}

func (c *Controller) login(ctx context.Context, r *http.Request) (Result, error) {
	if errs, ok := c.parseForm(r); !ok {
		return validationFailed(errs), nil
	}
	submission, errs, err := c.forms.parseLogin(r.PostForm)
	if err != nil {
		return Result{}, fmt.Errorf("authflow: validate login: %w", err)
	}
	if !errs.Empty() {
		return validationFailed(errs), nil
	}

	switch s := submission.(type) {
	case StandardLogin:
		return c.loginWithPassword(ctx, s)
	case ProviderLogin:
		return c.beginProviderLogin(s)
	default:
		return Result{}, fmt.Errorf("authflow: unhandled login submission %T", submission)
	}
}

func (c *Controller) loginWithPassword(ctx context.Context, submission StandardLogin) (Result, error) {
	user, err := c.store.FindUserByEmail(ctx, submission.Email)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		c.logFailure("authflow.login", "user_lookup_failed", err)
		return Result{}, err
	}

	// Unknown accounts and accounts without a password still pay for one bcrypt
	// comparison so response timing does not reveal which emails exist.
	hash := c.dummyHash
	usable := err == nil && user.HasPassword()
	if usable {
		hash = user.PasswordHash.Hash
	}
	matched, verifyErr := c.hasher.Verify(submission.Password, hash)
	if verifyErr != nil {
		c.logFailure("authflow.login", "hash_unusable", verifyErr, zap.String("user_id", user.ID))
		matched = false
	}
	if !usable || !matched {
		c.logRejection("authflow.login", "invalid_credentials")
		var errs FormErrors
		errs.AddForm(InvalidCredentialsMessage)
		return validationFailed(errs), nil
	}

	return c.issueSession(user.ID, auth.MintOptions{ExtendedLifetime: submission.Remember})
}

func (c *Controller) beginProviderLogin(submission ProviderLogin) (Result, error) {
	location, stateCookie, err := c.exchange.Begin(submission.Provider)
	if errors.Is(err, identity.ErrProviderNotConfigured) {
		var errs FormErrors
		errs.AddField(fieldIntent, fmt.Sprintf("Sign in with %s is not available", submission.Provider))
		return validationFailed(errs), nil
	}
	if err != nil {
		c.logFailure("authflow.login", "provider_begin_failed", err, zap.String("provider", submission.Provider.String()))
		return Result{}, err
	}
	return Result{
		Outcome:    OutcomeExternalRedirect,
		RedirectTo: location,
		Cookies:    []*http.Cookie{stateCookie},
	}, nil
}

func (c *Controller) availableProviders() []string {
	providers := make([]string, 0, len(auth.SupportedProviders))
	for _, provider := range auth.SupportedProviders {
		if c.exchange.Configured(provider) {
			providers = append(providers, provider.String())
		}
	}
	return providers
}
