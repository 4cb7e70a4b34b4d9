package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/MarcoPoloResearchLab/epicesports/internal/authflow"
	"github.com/MarcoPoloResearchLab/epicesports/internal/config"
	"github.com/MarcoPoloResearchLab/epicesports/internal/database"
	"github.com/MarcoPoloResearchLab/epicesports/internal/identity"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users"
	"github.com/MarcoPoloResearchLab/epicesports/internal/users/postgres"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const providerHTTPTimeout = 10 * time.Second

type openedStore struct {
	Store authflow.Store
	close func()
}

// openStore connects the configured database, applies migrations and returns the credential store.
func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (openedStore, error) {
	switch appConfig.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, appConfig.DatabaseURL, logger)
		if err != nil {
			return openedStore{}, err
		}
		store, err := postgres.NewStore(postgres.Config{Pool: pool, Logger: logger})
		if err != nil {
			pool.Close()
			return openedStore{}, err
		}
		return openedStore{Store: store, close: pool.Close}, nil
	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return openedStore{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return openedStore{}, err
		}
		service, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
		if err != nil {
			sqlDB.Close()
			return openedStore{}, err
		}
		return openedStore{Store: service, close: func() { sqlDB.Close() }}, nil
	}
}

func buildController(appConfig config.AppConfig, store authflow.Store, logger *zap.Logger) (*authflow.Controller, error) {
	secret := []byte(appConfig.SessionSecret)
	cookies := auth.CookieConfig{
		Secure: appConfig.CookieSecure,
		Domain: appConfig.CookieDomain,
	}

	issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret:    secret,
		Issuer:           appConfig.SessionIssuer,
		DefaultLifetime:  appConfig.SessionTTL,
		ExtendedLifetime: appConfig.RememberTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("session issuer: %w", err)
	}
	sessions, err := auth.NewSessionCookies(auth.SessionCookiesConfig{
		Issuer:     issuer,
		CookieName: appConfig.SessionCookieName,
		Cookies:    cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("session cookies: %w", err)
	}
	stager, err := auth.NewExchangeStager(auth.ExchangeStagerConfig{
		SigningSecret: secret,
		Issuer:        appConfig.SessionIssuer,
		Window:        appConfig.ExchangeWindow,
		Cookies:       cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange stager: %w", err)
	}
	verified, err := auth.NewVerifiedEmails(auth.VerifiedEmailsConfig{
		SigningSecret: secret,
		Issuer:        appConfig.SessionIssuer,
		Cookies:       cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("verified emails: %w", err)
	}

	httpClient := &http.Client{Timeout: providerHTTPTimeout}
	connectors, err := buildConnectors(appConfig, httpClient, logger)
	if err != nil {
		return nil, err
	}
	exchange, err := identity.NewExchange(identity.ExchangeConfig{
		Connectors: connectors,
		Stager:     stager,
		Cookies:    cookies,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return authflow.NewController(authflow.Config{
		Store:          store,
		Hasher:         auth.NewBcryptHasher(bcrypt.DefaultCost),
		Sessions:       sessions,
		Exchange:       exchange,
		VerifiedEmails: verified,
		Cookies:        cookies,
		Logger:         logger,
	})
}

// buildConnectors registers every provider whose client credentials are configured.
func buildConnectors(appConfig config.AppConfig, httpClient *http.Client, logger *zap.Logger) ([]identity.Connector, error) {
	var connectors []identity.Connector
	providerConfig := func(provider auth.Provider, credentials config.ProviderCredentials) identity.ProviderConfig {
		return identity.ProviderConfig{
			ClientID:     credentials.ClientID,
			ClientSecret: credentials.ClientSecret,
			RedirectURL:  appConfig.CallbackURL(provider.String()),
		}
	}

	if appConfig.GitHub.Enabled() {
		connector, err := identity.NewGitHubConnector(providerConfig(auth.ProviderGitHub, appConfig.GitHub))
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, connector)
	}
	if appConfig.Facebook.Enabled() {
		connector, err := identity.NewFacebookConnector(providerConfig(auth.ProviderFacebook, appConfig.Facebook))
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, connector)
	}
	if appConfig.Google.Enabled() {
		verifier, err := identity.NewGoogleTokenVerifier(identity.GoogleTokenVerifierConfig{
			ClientID:   appConfig.Google.ClientID,
			KeySetURL:  appConfig.GoogleJWKSURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("google verifier: %w", err)
		}
		connector, err := identity.NewGoogleConnector(providerConfig(auth.ProviderGoogle, appConfig.Google), verifier)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, connector)
	}
	for _, connector := range connectors {
		logger.Info("identity provider enabled", zap.String("provider", connector.Provider().String()))
	}
	return connectors, nil
}
