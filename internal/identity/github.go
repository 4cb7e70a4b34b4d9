package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPIBase = "https://api.github.com"

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubConnector exchanges GitHub authorization codes for profiles.
type GitHubConnector struct {
	oauthConnector
}

// NewGitHubConnector returns a connector requesting read:user and user:email.
func NewGitHubConnector(cfg ProviderConfig) (*GitHubConnector, error) {
	base, err := newOAuthConnector(auth.ProviderGitHub, cfg, github.Endpoint, defaultGitHubAPIBase, []string{"read:user", "user:email"})
	if err != nil {
		return nil, err
	}
	return &GitHubConnector{oauthConnector: base}, nil
}

// Exchange trades code for a token and reads the user and primary email.
func (c *GitHubConnector) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, err
	}

	var user githubUser
	if err := c.getJSON(ctx, token, "/user", &user); err != nil {
		return Profile{}, err
	}
	if user.ID == 0 {
		return Profile{}, errMissingProviderID
	}

	// A private profile email is only exposed through the emails listing.
	email := user.Email
	if strings.TrimSpace(email) == "" {
		var emails []githubEmail
		if err := c.getJSON(ctx, token, "/user/emails", &emails); err != nil {
			return Profile{}, err
		}
		for _, candidate := range emails {
			if candidate.Primary && candidate.Verified {
				email = candidate.Email
				break
			}
		}
	}

	return Profile{
		Provider:   auth.ProviderGitHub,
		ProviderID: strconv.FormatInt(user.ID, 10),
		Email:      normalizeEmail(email),
		FullName:   strings.TrimSpace(user.Name),
		Username:   strings.TrimSpace(user.Login),
	}, nil
}
