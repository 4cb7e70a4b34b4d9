package identity

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"golang.org/x/oauth2/facebook"
)

const defaultFacebookAPIBase = "https://graph.facebook.com"

type facebookUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FacebookConnector exchanges Facebook authorization codes for Graph API profiles.
type FacebookConnector struct {
	oauthConnector
}

// NewFacebookConnector builds the Facebook connector.
func NewFacebookConnector(cfg ProviderConfig) (*FacebookConnector, error) {
	base, err := newOAuthConnector(auth.ProviderFacebook, cfg, facebook.Endpoint, defaultFacebookAPIBase, []string{"email", "public_profile"})
	if err != nil {
		return nil, err
	}
	return &FacebookConnector{oauthConnector: base}, nil
}

// Exchange trades code for a token and reads the Graph API profile.
func (c *FacebookConnector) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, err
	}

	var user facebookUser
	if err := c.getJSON(ctx, token, "/me?fields=id,name,email", &user); err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(user.ID) == "" {
		return Profile{}, errMissingProviderID
	}

	email := normalizeEmail(user.Email)
	return Profile{
		Provider:   auth.ProviderFacebook,
		ProviderID: strings.TrimSpace(user.ID),
		Email:      email,
		FullName:   strings.TrimSpace(user.Name),
		Username:   usernameHint(email),
	}, nil
}
