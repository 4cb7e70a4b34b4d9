package authflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/identity"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "authflow-test-secret"
	testIssuer     = "epicesports-test"
	testPassword   = "correct-horse"
	testProviderID = "gh-4242"
	goodCode       = "good-code"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memoryStore is an in-memory Store enforcing the same uniqueness rules as the database.
type memoryStore struct {
	mu          sync.Mutex
	users       map[string]users.User
	sequence    int
	failWith    error
	createCalls int
	updateCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]users.User)}
}

func (s *memoryStore) find(match func(users.User) bool) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return users.User{}, s.failWith
	}
	for _, user := range s.users {
		if match(user) {
			return user, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (s *memoryStore) FindUserByEmail(_ context.Context, email string) (users.User, error) {
	normalized := users.NormalizeEmail(email)
	return s.find(func(u users.User) bool { return u.Email == normalized })
}

func (s *memoryStore) FindUserByUsername(_ context.Context, username string) (users.User, error) {
	return s.find(func(u users.User) bool { return u.Username == username })
}

func (s *memoryStore) FindUserByID(_ context.Context, userID string) (users.User, error) {
	return s.find(func(u users.User) bool { return u.ID == userID })
}

func (s *memoryStore) FindUserByConnection(_ context.Context, provider, providerID string) (users.User, error) {
	return s.find(func(u users.User) bool {
		for _, connection := range u.Connections {
			if connection.Provider == provider && connection.ProviderID == providerID {
				return true
			}
		}
		return false
	})
}

func (s *memoryStore) CreateUser(_ context.Context, input users.NewUser) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.failWith != nil {
		return users.User{}, s.failWith
	}
	email := users.NormalizeEmail(input.Email)
	for _, existing := range s.users {
		switch {
		case existing.Username == input.Username:
			return users.User{}, &users.DuplicateError{Field: users.FieldUsername}
		case existing.Email == email:
			return users.User{}, &users.DuplicateError{Field: users.FieldEmail}
		}
		if input.Connection != nil {
			for _, connection := range existing.Connections {
				if connection.Provider == input.Connection.Provider && connection.ProviderID == input.Connection.ProviderID {
					return users.User{}, &users.DuplicateError{Field: users.FieldConnection}
				}
			}
		}
	}

	s.sequence++
	user := users.User{
		ID:                fmt.Sprintf("user-%d", s.sequence),
		Email:             email,
		Username:          input.Username,
		Name:              input.Name,
		AcceptsPromotions: input.Promotions,
	}
	if input.PasswordHash != "" {
		user.PasswordHash = &users.PasswordHash{UserID: user.ID, Hash: input.PasswordHash}
	}
	if input.Connection != nil {
		user.Connections = []users.Connection{{
			Provider:   input.Connection.Provider,
			ProviderID: input.Connection.ProviderID,
			UserID:     user.ID,
		}}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *memoryStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.failWith != nil {
		return s.failWith
	}
	user, ok := s.users[userID]
	if !ok {
		return users.ErrNotFound
	}
	user.PasswordHash = &users.PasswordHash{UserID: userID, Hash: hash}
	s.users[userID] = user
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// fakeConnector stands in for a provider that accepts goodCode.
type fakeConnector struct {
	provider auth.Provider
	profile  identity.Profile
}

func (f *fakeConnector) Provider() auth.Provider {
	return f.provider
}

func (f *fakeConnector) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeConnector) Exchange(_ context.Context, code string) (identity.Profile, error) {
	if code != goodCode {
		return identity.Profile{}, errors.New("bad verification code")
	}
	return f.profile, nil
}

type harness struct {
	controller *Controller
	store      *memoryStore
	hasher     auth.PasswordHasher
	exchange   *identity.Exchange
	verified   *auth.VerifiedEmails
	issuer     *auth.SessionIssuer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	secret := []byte(testSecret)
	cookies := auth.CookieConfig{Secure: true}

	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{SigningSecret: secret, Issuer: testIssuer})
	if err != nil {
		t.Fatalf("session issuer: %v", err)
	}
	sessions, err := auth.NewSessionCookies(auth.SessionCookiesConfig{Issuer: issuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("session cookies: %v", err)
	}
	stager, err := auth.NewExchangeStager(auth.ExchangeStagerConfig{SigningSecret: secret, Issuer: testIssuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("exchange stager: %v", err)
	}
	exchange, err := identity.NewExchange(identity.ExchangeConfig{
		Connectors: []identity.Connector{&fakeConnector{
			provider: auth.ProviderGitHub,
			profile: identity.Profile{
				ProviderID: testProviderID,
				Email:      "octo@example.com",
				FullName:   "Octo Cat",
				Username:   "octocat",
			},
		}},
		Stager:  stager,
		Cookies: cookies,
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	verified, err := auth.NewVerifiedEmails(auth.VerifiedEmailsConfig{SigningSecret: secret, Issuer: testIssuer, Cookies: cookies})
	if err != nil {
		t.Fatalf("verified emails: %v", err)
	}

	store := newMemoryStore()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	controller, err := NewController(Config{
		Store:          store,
		Hasher:         hasher,
		Sessions:       sessions,
		Exchange:       exchange,
		VerifiedEmails: verified,
		Cookies:        cookies,
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	return &harness{
		controller: controller,
		store:      store,
		hasher:     hasher,
		exchange:   exchange,
		verified:   verified,
		issuer:     issuer,
	}
}

// seedUser stores an account with testPassword.
func (h *harness) seedUser(t *testing.T, email, username string) users.User {
	t.Helper()
	hash, err := h.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user, err := h.store.CreateUser(context.Background(), users.NewUser{
		Email:        email,
		Username:     username,
		Name:         "Seeded User",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// stagedCookie stages a provider profile as if the callback had just run.
func (h *harness) stagedCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	cookie, err := h.exchange.Stage(identity.Profile{
		Provider:   auth.ProviderGitHub,
		ProviderID: testProviderID,
		Email:      email,
		FullName:   "Octo Cat",
		Username:   "octocat",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	return cookie
}

func (h *harness) verifiedCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	cookie, err := h.verified.Issue(email)
	if err != nil {
		t.Fatalf("verified email: %v", err)
	}
	return cookie
}

func postForm(target string, values url.Values, cookies ...*http.Cookie) *http.Request {
	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return withCookies(request, cookies...)
}

func getPage(target string, cookies ...*http.Cookie) *http.Request {
	return withCookies(httptest.NewRequest(http.MethodGet, target, http.NoBody), cookies...)
}

// withCookies attaches every live cookie; expiring ones are skipped like a browser would.
func withCookies(request *http.Request, cookies ...*http.Cookie) *http.Request {
	for _, cookie := range cookies {
		if cookie == nil || cookie.MaxAge < 0 {
			continue
		}
		request.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return request
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func onboardingValues(email, username string) url.Values {
	return url.Values{
		"email":           {email},
		"password":        {"s3cret-pass"},
		"confirmPassword": {"s3cret-pass"},
		"username":        {username},
		"fullName":        {"Octo Cat"},
		"agree":           {"on"},
	}
}

func expectOutcome(t *testing.T, result Result, want Outcome) {
	t.Helper()
	if result.Outcome != want {
		t.Fatalf("expected outcome %s, got %s (errors %+v, message %q)", want, result.Outcome, result.Errors, result.Message)
	}
}

func approxDuration(t *testing.T, got, want time.Duration) {
	t.Helper()
	if diff := got - want; diff < -time.Minute || diff > time.Minute {
		t.Fatalf("expected about %s, got %s", want, got)
	}
}

func decodeToast(value string) (Toast, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Toast{}, err
	}
	var toast Toast
	err = json.Unmarshal(raw, &toast)
	return toast, err
}
