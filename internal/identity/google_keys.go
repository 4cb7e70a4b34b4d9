package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	// GoogleKeySetURL publishes the keys Google signs ID tokens with.
	GoogleKeySetURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultKeySetTTL      = time.Hour
	minKeySetRefresh      = time.Minute
	keySetFetchRetries    = 2
	keySetFetchBackoff    = 100 * time.Millisecond
	maxKeySetResponseSize = 1 << 16
)

var (
	// ErrInvalidIDToken covers every reason a Google ID token is rejected.
	ErrInvalidIDToken = errors.New("identity: invalid google id token")

	errMissingClientID   = errors.New("google client id is required")
	errUnknownSigningKey = errors.New("no google signing key matches the token")
	errEmptyKeySet       = errors.New("google key set contained no RSA signing keys")

	googleIssuers = map[string]struct{}{
		"https://accounts.google.com": {},
		"accounts.google.com":         {},
	}
)

// GoogleIdentity is the part of a verified ID token the Google connector uses.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type googleTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// GoogleTokenVerifierConfig configures offline ID token verification.
type GoogleTokenVerifierConfig struct {
	ClientID   string
	KeySetURL  string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// GoogleTokenVerifier checks ID tokens against Google's published RSA keys.
// Keys are cached for the max-age Google advertises and refetched when a token
// names a key the cache does not hold.
type GoogleTokenVerifier struct {
	clientID   string
	keySetURL  string
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastFetched time.Time
}

// NewGoogleTokenVerifier validates cfg and applies defaults.
func NewGoogleTokenVerifier(cfg GoogleTokenVerifierConfig) (*GoogleTokenVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errMissingClientID
	}
	keySetURL := strings.TrimSpace(cfg.KeySetURL)
	if keySetURL == "" {
		keySetURL = GoogleKeySetURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GoogleTokenVerifier{
		clientID:   clientID,
		keySetURL:  keySetURL,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Verify validates signature, audience, issuer and expiry of rawToken.
func (v *GoogleTokenVerifier) Verify(ctx context.Context, rawToken string) (GoogleIdentity, error) {
	claims := &googleTokenClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(token *jwt.Token) (any, error) {
			keyID, _ := token.Header["kid"].(string)
			return v.signingKey(ctx, keyID)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if _, trusted := googleIssuers[claims.Issuer]; !trusted {
		return GoogleIdentity{}, fmt.Errorf("%w: untrusted issuer %q", ErrInvalidIDToken, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return GoogleIdentity{}, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}
	return GoogleIdentity{
		Subject:       claims.Subject,
		Email:         normalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          strings.TrimSpace(claims.Name),
	}, nil
}

func (v *GoogleTokenVerifier) signingKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	if keyID == "" {
		return nil, errUnknownSigningKey
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock()
	key, cached := v.keys[keyID]
	fresh := now.Before(v.expiresAt)
	if cached && fresh {
		return key, nil
	}
	// An unknown key on a fresh cache usually means Google rotated keys early.
	if fresh && now.Sub(v.lastFetched) < minKeySetRefresh {
		return nil, errUnknownSigningKey
	}

	keys, ttl, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.lastFetched = now
	v.expiresAt = now.Add(ttl)

	if key, ok := v.keys[keyID]; ok {
		return key, nil
	}
	return nil, errUnknownSigningKey
}

func (v *GoogleTokenVerifier) fetchKeySet(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	var document keySetDocument
	ttl := defaultKeySetTTL

	backoff := retry.WithMaxRetries(keySetFetchRetries, retry.NewExponential(keySetFetchBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.keySetURL, nil)
		if err != nil {
			return err
		}
		response, err := v.httpClient.Do(request)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer response.Body.Close()

		switch {
		case response.StatusCode >= http.StatusInternalServerError:
			return retry.RetryableError(fmt.Errorf("key set request returned status %d", response.StatusCode))
		case response.StatusCode != http.StatusOK:
			return fmt.Errorf("key set request returned status %d", response.StatusCode)
		}
		if err := json.NewDecoder(io.LimitReader(response.Body, maxKeySetResponseSize)).Decode(&document); err != nil {
			return err
		}
		if maxAge, ok := cacheMaxAge(response.Header.Get("Cache-Control")); ok {
			ttl = maxAge
		}
		return nil
	})
	if err != nil {
		recordKeySetFetch("error")
		v.logger.Error("google key set fetch failed",
			zap.String("operation", "identity.google_keys"),
			zap.String("reason", "fetch_failed"),
			zap.Error(err),
		)
		return nil, 0, err
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, candidate := range document.Keys {
		if candidate.KeyType != "RSA" || (candidate.Use != "" && candidate.Use != "sig") {
			continue
		}
		key, err := candidate.publicKey()
		if err != nil {
			v.logger.Debug("skipping google signing key", zap.String("kid", candidate.KeyID), zap.Error(err))
			continue
		}
		keys[candidate.KeyID] = key
	}
	if len(keys) == 0 {
		recordKeySetFetch("error")
		return nil, 0, errEmptyKeySet
	}
	recordKeySetFetch("ok")
	return keys, ttl, nil
}

// cacheMaxAge extracts max-age from a Cache-Control header.
func cacheMaxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

type keySetDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exponent := new(big.Int).SetBytes(exponentBytes)
	if len(modulus) == 0 || !exponent.IsInt64() || exponent.Int64() < 3 || exponent.Int64() > 1<<31-1 {
		return nil, errors.New("malformed rsa parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(exponent.Int64())}, nil
}
