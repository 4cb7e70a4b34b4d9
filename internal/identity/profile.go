package identity

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
)

var (
	ErrProviderNotConfigured = errors.New("identity: provider not configured")
	ErrStateMismatch         = errors.New("identity: oauth state mismatch")
	ErrExchangeFailed        = errors.New("identity: provider exchange failed")

	errMissingProviderID = errors.New("provider returned no account id")
)

// Profile is the identity a provider vouched for after a successful exchange.
type Profile struct {
	Provider   auth.Provider
	ProviderID string
	Email      string
	FullName   string
	Username   string
}

// Connector speaks the OAuth2 dialect of a single provider.
type Connector interface {
	Provider() auth.Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// usernameHint derives a prefill username from the local part of an email.
func usernameHint(email string) string {
	local, _, _ := strings.Cut(normalizeEmail(email), "@")
	var builder strings.Builder
	for _, r := range local {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			builder.WriteRune(r)
		}
		if builder.Len() == 20 {
			break
		}
	}
	return builder.String()
}
