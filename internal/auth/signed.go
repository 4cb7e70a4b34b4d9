package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceSession         = "session"
	audiencePendingExchange = "pending-exchange"
	audienceVerifiedEmail   = "verified-email"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
)

// signer mints and parses HS256 tokens for a single audience. Every cookie this
// service signs goes through a signer so that a token minted for one purpose is
// rejected by every other parser.
type signer struct {
	secret   []byte
	issuer   string
	audience string
	clock    func() time.Time
}

func newSigner(secret []byte, issuer, audience string, clock func() time.Time) (signer, error) {
	if len(secret) == 0 {
		return signer{}, errMissingSigningSecret
	}
	if issuer == "" {
		return signer{}, errMissingIssuer
	}
	if clock == nil {
		clock = time.Now
	}
	return signer{
		secret:   append([]byte(nil), secret...),
		issuer:   issuer,
		audience: audience,
		clock:    clock,
	}, nil
}

func (s signer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.clock().UTC()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s signer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s signer) parse(tokenString string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(s.audience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return err
	}
	if parsed == nil || !parsed.Valid {
		return errors.New("token invalid")
	}
	return nil
}
