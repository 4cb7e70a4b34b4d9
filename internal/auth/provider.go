package auth

import (
	"fmt"
	"strings"
)

// Provider names a third-party identity provider.
type Provider string

const (
	ProviderGitHub   Provider = "github"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// SupportedProviders lists every provider a login form may name.
var SupportedProviders = []Provider{ProviderGitHub, ProviderGoogle, ProviderFacebook}

// ParseProvider maps a form or path value onto a supported provider.
func ParseProvider(value string) (Provider, error) {
	candidate := Provider(strings.ToLower(strings.TrimSpace(value)))
	for _, provider := range SupportedProviders {
		if provider == candidate {
			return provider, nil
		}
	}
	return "", fmt.Errorf("auth: unsupported provider %q", value)
}

func (p Provider) String() string {
	return string(p)
}
