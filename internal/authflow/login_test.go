package authflow

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func loginValues(email, password string) url.Values {
	return url.Values{"intent": {"standard"}, "email": {email}, "password": {password}}
}

func TestLoginIssuesDefaultSession(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "player@example.com", "player_one")

	result, err := h.controller.Login(context.Background(), postForm("/login", loginValues("Player@Example.com", testPassword)))
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	expectOutcome(t, result, OutcomeAuthenticated)
	if result.RedirectTo != "/" {
		t.Fatalf("expected redirect home, got %q", result.RedirectTo)
	}
	if result.Session == nil || result.Session.UserID != user.ID || result.Session.Extended {
		t.Fatalf("unexpected session %+v", result.Session)
	}
	approxDuration(t, result.Session.ExpiresAt.Sub(result.Session.IssuedAt), auth.DefaultSessionLifetime)

	cookie := findCookie(result.Cookies, "session")
	if cookie == nil || cookie.MaxAge != 0 {
		t.Fatalf("expected browser-session cookie, got %#v", cookie)
	}
	subject, err := h.issuer.Verify(cookie.Value)
	if err != nil || subject != user.ID {
		t.Fatalf("session cookie did not verify: %v %s", err, subject)
	}
}

func TestLoginRememberExtendsSession(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "player@example.com", "player_one")

	values := loginValues("player@example.com", testPassword)
	values.Set("remember", "on")
	result, err := h.controller.Login(context.Background(), postForm("/login", values))
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	expectOutcome(t, result, OutcomeAuthenticated)
	if !result.Session.Extended {
		t.Fatalf("expected extended session")
	}
	approxDuration(t, result.Session.ExpiresAt.Sub(result.Session.IssuedAt), auth.ExtendedSessionLifetime)
	if cookie := findCookie(result.Cookies, "session"); cookie == nil || cookie.MaxAge != int(auth.ExtendedSessionLifetime.Seconds()) {
		t.Fatalf("expected persistent session cookie, got %#v", cookie)
	}
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "player@example.com", "player_one")
	if _, err := h.store.CreateUser(context.Background(), users.NewUser{
		Email: "social@example.com", Username: "social", Name: "Social Only",
	}); err != nil {
		t.Fatalf("seed passwordless user: %v", err)
	}

	testCases := []struct {
		name     string
		email    string
		password string
	}{
		{name: "unknown email", email: "nobody@example.com", password: testPassword},
		{name: "wrong password", email: "player@example.com", password: "wrong-password"},
		{name: "account without password", email: "social@example.com", password: testPassword},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := h.controller.Login(context.Background(), postForm("/login", loginValues(testCase.email, testCase.password)))
			if err != nil {
				t.Fatalf("login returned error: %v", err)
			}
			expectOutcome(t, result, OutcomeValidationFailed)
			if len(result.Errors.Form) != 1 || result.Errors.Form[0] != InvalidCredentialsMessage {
				t.Fatalf("unexpected form errors %+v", result.Errors)
			}
			if len(result.Errors.Fields) != 0 {
				t.Fatalf("credential failures must not point at a field: %+v", result.Errors.Fields)
			}
			if len(result.Cookies) != 0 || result.Session != nil {
				t.Fatalf("failed login must not set cookies")
			}
		})
	}
}

func TestLoginStructuralValidation(t *testing.T) {
	h := newHarness(t)

	result, err := h.controller.Login(context.Background(), postForm("/login", loginValues("not-an-email", "")))
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	expectOutcome(t, result, OutcomeValidationFailed)
	if got := result.Errors.Fields["email"]; len(got) != 1 || got[0] != "Invalid email address" {
		t.Fatalf("unexpected email errors %v", got)
	}
	if got := result.Errors.Fields["password"]; len(got) != 1 || got[0] != "Password is required" {
		t.Fatalf("unexpected password errors %v", got)
	}

	result, err = h.controller.Login(context.Background(), postForm("/login", url.Values{"intent": {"myspace"}}))
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	expectOutcome(t, result, OutcomeValidationFailed)
	if got := result.Errors.Fields["intent"]; len(got) != 1 {
		t.Fatalf("expected intent error, got %+v", result.Errors)
	}
}

func TestLoginWithProviderRedirectsExternally(t *testing.T) {
	h := newHarness(t)

	result, err := h.controller.Login(context.Background(), postForm("/login", url.Values{"intent": {"github"}}))
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	expectOutcome(t, result, OutcomeExternalRedirect)
	state := findCookie(result.Cookies, "oauth_state")
	if state == nil || state.Value == "" {
		t.Fatalf("expected state cookie, got %#v", result.Cookies)
	}
	if !strings.Contains(result.RedirectTo, url.QueryEscape(state.Value)) {
		t.Fatalf("authorize url %q does not carry the state", result.RedirectTo)
	}

	result, err = h.controller.Login(context.Background(), postForm("/login", url.Values{"intent": {"google"}}))
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	expectOutcome(t, result, OutcomeValidationFailed)
	if got := result.Errors.Fields["intent"]; len(got) != 1 || got[0] != "Sign in with google is not available" {
		t.Fatalf("unexpected intent errors %v", got)
	}
}

func TestLoginStoreFailureIsAnError(t *testing.T) {
	h := newHarness(t)
	h.store.failWith = users.ErrUnavailable

	_, err := h.controller.Login(context.Background(), postForm("/login", loginValues("player@example.com", testPassword)))
	if !errors.Is(err, users.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestLoginPage(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "player@example.com", "player_one")

	result, err := h.controller.LoginPage(context.Background(), getPage("/login"))
	if err != nil {
		t.Fatalf("login page: %v", err)
	}
	expectOutcome(t, result, OutcomeRender)
	providers, ok := result.Data["providers"].([]string)
	if !ok || len(providers) != 1 || providers[0] != "github" {
		t.Fatalf("unexpected providers %#v", result.Data["providers"])
	}

	login, err := h.controller.Login(context.Background(), postForm("/login", loginValues(user.Email, testPassword)))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	result, err = h.controller.LoginPage(context.Background(), getPage("/login", login.Cookies...))
	if err != nil {
		t.Fatalf("login page: %v", err)
	}
	expectOutcome(t, result, OutcomeRedirect)
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t)

	result := h.controller.Logout()
	expectOutcome(t, result, OutcomeRedirect)
	cookie := findCookie(result.Cookies, "session")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("expected expiring session cookie, got %#v", cookie)
	}
}

func TestLoginOutcomesAreCounted(t *testing.T) {
	h := newHarness(t)
	counter := flowOutcomes.WithLabelValues(flowLogin, OutcomeValidationFailed.String())
	before := testutil.ToFloat64(counter)

	if _, err := h.controller.Login(context.Background(), postForm("/login", loginValues("nobody@example.com", testPassword))); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected one counted failure, got %v", got)
	}
}
