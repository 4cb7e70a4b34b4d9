package authflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"go.uber.org/zap"
)

const (
	EmailChangeMessage     = "Changing email during 3rd-party registration is not allowed"
	UsernameTakenMessage   = "User with this username already exists"
	EmailTakenMessage      = "User with this email already exists"
	ConnectionTakenMessage = "This account is already linked to another user"
	accountConflictMessage = "Your account could not be created. Please, try again."
)

// CompleteProvider finishes a third-party sign-in. A known connection signs the
// user in; an unknown one is staged and sent to onboarding.
func (c *Controller) CompleteProvider(ctx context.Context, providerName string, r *http.Request) (Result, error) {
	result, err := c.completeProvider(ctx, providerName, r)
	return finish(flowProvider, result, err)
}

func (c *Controller) completeProvider(ctx context.Context, providerName string, r *http.Request) (Result, error) {
	clearState := c.exchange.ClearState()

	provider, err := auth.ParseProvider(providerName)
	if err != nil {
		c.logRejection("authflow.provider_callback", "unsupported_provider", zap.String("provider", providerName))
		return redirect(loginPath, clearState), nil
	}

	profile, err := c.exchange.Complete(ctx, provider, r)
	if err != nil {
		c.logRejection("authflow.provider_callback", "exchange_failed",
			zap.String("provider", provider.String()), zap.Error(err))
		return redirect(loginPath, clearState), nil
	}

	user, err := c.store.FindUserByConnection(ctx, profile.Provider.String(), profile.ProviderID)
	switch {
	case err == nil:
		return c.issueSession(user.ID, auth.MintOptions{}, clearState)
	case errors.Is(err, users.ErrNotFound):
	default:
		c.logFailure("authflow.provider_callback", "connection_lookup_failed", err)
		return Result{}, err
	}

	pending, err := c.exchange.Stage(profile)
	if err != nil {
		c.logFailure("authflow.provider_callback", "stage_failed", err)
		return Result{}, err
	}
	return redirect(onboardingPath, clearState, pending), nil
}

// OnboardingPage renders the onboarding form prefilled from the staged exchange.
func (c *Controller) OnboardingPage(_ context.Context, r *http.Request) (Result, error) {
	data := map[string]any{"email": "", "fullName": "", "username": ""}
	if pending, err := c.exchange.ReadPending(r); err == nil {
		data["email"] = pending.Email
		data["fullName"] = pending.FullName
		data["username"] = pending.Username
	}
	return render(data), nil
}

// Onboard completes the local account for a staged third-party identity.
func (c *Controller) Onboard(ctx context.Context, r *http.Request) (Result, error) {
	result, err := c.onboard(ctx, r)
	return finish(flowOnboarding, result, err)
}

func (c *Controller) onboard(ctx context.Context, r *http.Request) (Result, error) {
	pending, err := c.exchange.ReadPending(r)
	if err != nil {
		c.logRejection("authflow.onboard", "no_pending_exchange")
		return blocked(c.expiredExchangeMessage()), nil
	}

	if errs, ok := c.parseForm(r); !ok {
		return validationFailed(errs), nil
	}
	submission, errs, err := c.forms.parseOnboarding(r.PostForm)
	if err != nil {
		return Result{}, fmt.Errorf("authflow: validate onboarding: %w", err)
	}
	if !errs.Empty() {
		return validationFailed(errs), nil
	}

	if users.NormalizeEmail(submission.Email) != users.NormalizeEmail(pending.Email) {
		errs.AddField(fieldEmail, EmailChangeMessage)
	}
	_, err = c.store.FindUserByUsername(ctx, submission.Username)
	switch {
	case err == nil:
		errs.AddField(fieldUsername, UsernameTakenMessage)
	case errors.Is(err, users.ErrNotFound):
	default:
		c.logFailure("authflow.onboard", "username_lookup_failed", err)
		return Result{}, err
	}
	if !errs.Empty() {
		c.logRejection("authflow.onboard", "business_validation_failed")
		return validationFailed(errs), nil
	}

	hash, err := c.hasher.Hash(submission.Password)
	if err != nil {
		c.logFailure("authflow.onboard", "hash_failed", err)
		return Result{}, err
	}

	user, err := c.store.CreateUser(ctx, users.NewUser{
		Email:        submission.Email,
		Username:     submission.Username,
		Name:         submission.FullName,
		PasswordHash: hash,
		Promotions:   submission.Promotions,
		Connection: &users.ConnectionSpec{
			Provider:   pending.Provider.String(),
			ProviderID: pending.ProviderID,
		},
	})
	var duplicate *users.DuplicateError
	if errors.As(err, &duplicate) {
		c.logRejection("authflow.onboard", "duplicate_on_write", zap.String("field", duplicate.Field))
		return validationFailed(duplicateErrors(duplicate)), nil
	}
	if err != nil {
		c.logFailure("authflow.onboard", "create_user_failed", err)
		return Result{}, err
	}

	return c.issueSession(user.ID, auth.MintOptions{}, c.confettiCookie(), c.exchange.ClearPending())
}

func (c *Controller) expiredExchangeMessage() string {
	minutes := int(math.Round(c.exchange.Window().Minutes()))
	return fmt.Sprintf("%d minutes have passed since you've started the registration process. Please, try again.", minutes)
}

// duplicateErrors turns a write-time uniqueness conflict into the same result
// the read-time checks produce.
func duplicateErrors(duplicate *users.DuplicateError) FormErrors {
	var errs FormErrors
	switch duplicate.Field {
	case users.FieldUsername:
		errs.AddField(fieldUsername, UsernameTakenMessage)
	case users.FieldEmail:
		errs.AddField(fieldEmail, EmailTakenMessage)
	case users.FieldConnection:
		errs.AddForm(ConnectionTakenMessage)
	default:
		errs.AddForm(accountConflictMessage)
	}
	return errs
}
