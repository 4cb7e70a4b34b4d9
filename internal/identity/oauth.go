package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"golang.org/x/oauth2"
)

const maxProfileResponseBytes = 1 << 20

// ProviderConfig carries the OAuth2 client registration for one provider.
// Endpoint and APIBaseURL default to the provider's public hosts.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	APIBaseURL   string
}

func (c ProviderConfig) configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type oauthConnector struct {
	provider   auth.Provider
	config     *oauth2.Config
	apiBaseURL string
}

func newOAuthConnector(provider auth.Provider, cfg ProviderConfig, defaultEndpoint oauth2.Endpoint, defaultAPIBase string, scopes []string) (oauthConnector, error) {
	if !cfg.configured() {
		return oauthConnector{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = defaultEndpoint
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return oauthConnector{
		provider: provider,
		config: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		apiBaseURL: apiBase,
	}, nil
}

// Provider names the provider this connector talks to.
func (c oauthConnector) Provider() auth.Provider {
	return c.provider
}

// AuthCodeURL returns the consent URL carrying state.
func (c oauthConnector) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// getJSON fetches path from the provider API using the token's authorized client.
func (c oauthConnector) getJSON(ctx context.Context, token *oauth2.Token, path string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.config.Client(ctx, token).Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s returned status %d", c.provider, path, response.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(response.Body, maxProfileResponseBytes)).Decode(target)
}
