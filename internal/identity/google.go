package identity

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"golang.org/x/oauth2/google"
)

var errMissingIDToken = errors.New("google token response carried no id_token")

// IDTokenVerifier validates Google ID tokens; *GoogleTokenVerifier satisfies it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (GoogleIdentity, error)
}

// GoogleConnector performs the OIDC code flow and trusts only the verified id_token.
type GoogleConnector struct {
	oauthConnector
	verifier IDTokenVerifier
}

// NewGoogleConnector builds the Google connector around verifier.
func NewGoogleConnector(cfg ProviderConfig, verifier IDTokenVerifier) (*GoogleConnector, error) {
	if verifier == nil {
		return nil, errors.New("identity: google connector requires an id token verifier")
	}
	base, err := newOAuthConnector(auth.ProviderGoogle, cfg, google.Endpoint, "", []string{"openid", "email", "profile"})
	if err != nil {
		return nil, err
	}
	return &GoogleConnector{oauthConnector: base, verifier: verifier}, nil
}

// Exchange trades code for tokens and reads the profile from the verified id_token.
func (c *GoogleConnector) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, err
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return Profile{}, errMissingIDToken
	}
	claims, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, err
	}

	email := ""
	if claims.EmailVerified {
		email = claims.Email
	}
	return Profile{
		Provider:   auth.ProviderGoogle,
		ProviderID: claims.Subject,
		Email:      email,
		FullName:   claims.Name,
		Username:   usernameHint(email),
	}, nil
}
