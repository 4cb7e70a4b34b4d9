package integration_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/authflow"
	"github.com/MarcoPoloResearchLab/epicesports/internal/database"
	"github.com/MarcoPoloResearchLab/epicesports/internal/identity"
	"github.com/MarcoPoloResearchLab/epicesports/internal/server"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	signingSecret   = "integration-secret"
	signingIssuer   = "epicesports-integration"
	providerCode    = "integration-code"
	formContentType = "application/x-www-form-urlencoded"
)

type testEnvironment struct {
	server   *httptest.Server
	client   *http.Client
	verified *auth.VerifiedEmails
}

func newMockGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != providerCode {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"gh-access","token_type":"bearer"}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":4242,"login":"octocat","name":"Octo Cat","email":"Octo@Example.com"}`)
	})
	provider := httptest.NewServer(mux)
	t.Cleanup(provider.Close)
	return provider
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")), logger)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	store, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build user store: %v", err)
	}

	secret := []byte(signingSecret)
	cookies := auth.CookieConfig{}
	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: secret, Issuer: signingIssuer})
	if err != nil {
		t.Fatalf("session issuer: %v", err)
	}
	sessions, err := auth.NewSessionCookies(auth.SessionCookiesConfig{Issuer: issuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("session cookies: %v", err)
	}
	stager, err := auth.NewExchangeStager(auth.ExchangeStagerConfig{SigningSecret: secret, Issuer: signingIssuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("exchange stager: %v", err)
	}
	verified, err := auth.NewVerifiedEmails(auth.VerifiedEmailsConfig{SigningSecret: secret, Issuer: signingIssuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("verified emails: %v", err)
	}

	provider := newMockGitHub(t)
	github, err := identity.NewGitHubConnector(identity.ProviderConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		RedirectURL:  "http://localhost/auth/github/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.URL + "/authorize",
			TokenURL: provider.URL + "/token",
		},
		APIBaseURL: provider.URL,
	})
	if err != nil {
		t.Fatalf("github connector: %v", err)
	}
	exchange, err := identity.NewExchange(identity.ExchangeConfig{
		Connectors: []identity.Connector{github},
		Stager:     stager,
		Cookies:    cookies,
		HTTPClient: provider.Client(),
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	controller, err := authflow.NewController(authflow.Config{
		Store:          store,
		Hasher:         auth.NewBcryptHasher(bcrypt.MinCost),
		Sessions:       sessions,
		Exchange:       exchange,
		VerifiedEmails: verified,
		Cookies:        cookies,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{Flows: controller, Logger: logger})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnvironment{server: testServer, client: client, verified: verified}
}

func (e *testEnvironment) get(t *testing.T, path string) *http.Response {
	t.Helper()
	response, err := e.client.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func (e *testEnvironment) post(t *testing.T, path string, values url.Values) *http.Response {
	t.Helper()
	response, err := e.client.Post(e.server.URL+path, formContentType, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func expectStatus(t *testing.T, response *http.Response, want int) {
	t.Helper()
	if response.StatusCode != want {
		body, _ := io.ReadAll(response.Body)
		t.Fatalf("%s %s: expected status %d, got %d: %s", response.Request.Method, response.Request.URL.Path, want, response.StatusCode, body)
	}
}

func decodeJSON(t *testing.T, response *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestProviderSignupThroughPasswordReset(t *testing.T) {
	env := newTestEnvironment(t)

	me := env.get(t, "/me")
	expectStatus(t, me, http.StatusUnauthorized)

	begin := env.post(t, "/login", url.Values{"intent": {"github"}})
	expectStatus(t, begin, http.StatusSeeOther)
	authorizeURL, err := url.Parse(begin.Header.Get("Location"))
	if err != nil {
		t.Fatalf("invalid authorize location: %v", err)
	}
	state := authorizeURL.Query().Get("state")
	if state == "" {
		t.Fatalf("authorize url %s carries no state", authorizeURL)
	}

	callback := env.get(t, "/auth/github/callback?code="+providerCode+"&state="+url.QueryEscape(state))
	expectStatus(t, callback, http.StatusFound)
	if location := callback.Header.Get("Location"); location != "/onboarding" {
		t.Fatalf("expected onboarding redirect, got %q", location)
	}

	prefill := decodeJSON(t, env.get(t, "/onboarding"))
	if prefill["email"] != "octo@example.com" || prefill["username"] != "octocat" || prefill["fullName"] != "Octo Cat" {
		t.Fatalf("unexpected onboarding prefill %#v", prefill)
	}

	changedEmail := env.post(t, "/onboarding", url.Values{
		"email": {"someone-else@example.com"}, "password": {"first-pass"}, "confirmPassword": {"first-pass"},
		"username": {"octocat"}, "fullName": {"Octo Cat"}, "agree": {"on"},
	})
	expectStatus(t, changedEmail, http.StatusBadRequest)
	fields := decodeJSON(t, changedEmail)["errors"].(map[string]any)["fields"].(map[string]any)
	if _, ok := fields["email"]; !ok {
		t.Fatalf("expected email field error, got %#v", fields)
	}

	onboard := env.post(t, "/onboarding", url.Values{
		"email": {"octo@example.com"}, "password": {"first-pass"}, "confirmPassword": {"first-pass"},
		"username": {"octocat"}, "fullName": {"Octo Cat"}, "agree": {"on"}, "promotions": {"on"},
	})
	expectStatus(t, onboard, http.StatusSeeOther)

	profile := decodeJSON(t, env.get(t, "/me"))
	if profile["username"] != "octocat" || profile["email"] != "octo@example.com" {
		t.Fatalf("unexpected profile %#v", profile)
	}

	expired := env.post(t, "/onboarding", url.Values{
		"email": {"octo@example.com"}, "password": {"first-pass"}, "confirmPassword": {"first-pass"},
		"username": {"octocat"}, "fullName": {"Octo Cat"}, "agree": {"on"},
	})
	expectStatus(t, expired, http.StatusBadRequest)
	if body := decodeJSON(t, expired); body["status"] != "blocked" {
		t.Fatalf("expected blocked onboarding after completion, got %#v", body)
	}

	expectStatus(t, env.post(t, "/logout", nil), http.StatusSeeOther)
	expectStatus(t, env.get(t, "/me"), http.StatusUnauthorized)

	wrong := env.post(t, "/login", url.Values{"intent": {"standard"}, "email": {"octo@example.com"}, "password": {"nope"}})
	expectStatus(t, wrong, http.StatusBadRequest)
	form := decodeJSON(t, wrong)["errors"].(map[string]any)["form"].([]any)
	if len(form) != 1 || form[0] != authflow.InvalidCredentialsMessage {
		t.Fatalf("unexpected login errors %#v", form)
	}

	verifiedCookie, err := env.verified.Issue("octo@example.com")
	if err != nil {
		t.Fatalf("verified cookie: %v", err)
	}
	serverURL, _ := url.Parse(env.server.URL)
	env.client.Jar.SetCookies(serverURL, []*http.Cookie{verifiedCookie})

	expectStatus(t, env.get(t, "/reset-password"), http.StatusOK)
	reset := env.post(t, "/reset-password", url.Values{"password": {"second-pass"}, "confirmPassword": {"second-pass"}})
	expectStatus(t, reset, http.StatusSeeOther)
	if location := reset.Header.Get("Location"); location != "/login" {
		t.Fatalf("expected login redirect after reset, got %q", location)
	}
	expectStatus(t, env.get(t, "/me"), http.StatusUnauthorized)

	stale := env.post(t, "/login", url.Values{"intent": {"standard"}, "email": {"octo@example.com"}, "password": {"first-pass"}})
	expectStatus(t, stale, http.StatusBadRequest)

	login := env.post(t, "/login", url.Values{"intent": {"standard"}, "email": {"OCTO@example.com"}, "password": {"second-pass"}, "remember": {"on"}})
	expectStatus(t, login, http.StatusSeeOther)
	var session *http.Cookie
	for _, cookie := range login.Cookies() {
		if cookie.Name == "session" {
			session = cookie
		}
	}
	if session == nil || session.MaxAge != int(auth.ExtendedSessionLifetime.Seconds()) {
		t.Fatalf("expected remembered session cookie, got %#v", session)
	}
	expectStatus(t, env.get(t, "/me"), http.StatusOK)
	expectStatus(t, env.get(t, "/login"), http.StatusFound)
}
