package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
)

const (
	ResetBlockedMessage = "Something went wrong. Please, try to request a verification email again."
	ResetSuccessTitle   = "Password reset successfully"
)

// ResetPasswordPage renders the reset form for a verified email. Visitors
// without a verified email are sent to the login page.
func (c *Controller) ResetPasswordPage(ctx context.Context, r *http.Request) (Result, error) {
	email, err := c.verified.Read(r)
	if err != nil {
		return redirect(loginPath), nil
	}
	_, err = c.store.FindUserByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return blocked(ResetBlockedMessage), nil
	}
	if err != nil {
		c.logFailure("authflow.reset_password_page", "user_lookup_failed", err)
		return Result{}, err
	}
	return render(map[string]any{"email": email}), nil
}

// ResetPassword replaces the password of the verified account.
func (c *Controller) ResetPassword(ctx context.Context, r *http.Request) (Result, error) {
	result, err := c.resetPassword(ctx, r)
	return finish(flowReset, result, err)
}

func (c *Controller) resetPassword(ctx context.Context, r *http.Request) (Result, error) {
	email, err := c.verified.Read(r)
	if err != nil {
		return redirect(loginPath), nil
	}

	if errs, ok := c.parseForm(r); !ok {
		return validationFailed(errs), nil
	}
	password, errs, err := c.forms.parseResetPassword(r.PostForm)
	if err != nil {
		return Result{}, fmt.Errorf("authflow: validate reset: %w", err)
	}
	if !errs.Empty() {
		return validationFailed(errs), nil
	}

	user, err := c.store.FindUserByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		c.logRejection("authflow.reset_password", "verified_user_missing")
		return blocked(ResetBlockedMessage), nil
	}
	if err != nil {
		c.logFailure("authflow.reset_password", "user_lookup_failed", err)
		return Result{}, err
	}

	hash, err := c.hasher.Hash(password)
	if err != nil {
		c.logFailure("authflow.reset_password", "hash_failed", err)
		return Result{}, err
	}
	if err := c.store.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return blocked(ResetBlockedMessage), nil
		}
		c.logFailure("authflow.reset_password", "update_hash_failed", err)
		return Result{}, err
	}

	toast, err := c.toastCookie("success", ResetSuccessTitle)
	if err != nil {
		return Result{}, err
	}
	return redirect(loginPath, toast, c.verified.Clear()), nil
}
