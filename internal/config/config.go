package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "EPICESPORTS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "epicesports.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultSessionIssuer  = "epicesports"
	defaultCookieName     = "session"
	defaultSessionTTL     = 24 * time.Hour
	defaultRememberTTL    = 30 * 24 * time.Hour
	defaultExchangeWindow = 30 * time.Minute
	defaultPublicBaseURL  = "http://localhost:8080"
	defaultGoogleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ProviderCredentials holds the OAuth client registration of one provider.
// A provider without a client id is disabled.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether the provider is registered.
func (p ProviderCredentials) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseURL    string
	LogLevel       string
	LogFormat      string

	SessionSecret     string
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	RememberTTL       time.Duration
	ExchangeWindow    time.Duration

	CookieSecure   bool
	CookieDomain   string
	PublicBaseURL  string
	AllowedOrigins []string

	GitHub        ProviderCredentials
	Google        ProviderCredentials
	Facebook      ProviderCredentials
	GoogleJWKSURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.default_ttl", defaultSessionTTL)
	configViper.SetDefault("session.remember_ttl", defaultRememberTTL)
	configViper.SetDefault("exchange.window", defaultExchangeWindow)
	configViper.SetDefault("cookie.secure", true)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseURL:       configViper.GetString("database.url"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		SessionSecret:     configViper.GetString("session.secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		SessionTTL:        configViper.GetDuration("session.default_ttl"),
		RememberTTL:       configViper.GetDuration("session.remember_ttl"),
		ExchangeWindow:    configViper.GetDuration("exchange.window"),
		CookieSecure:      configViper.GetBool("cookie.secure"),
		CookieDomain:      configViper.GetString("cookie.domain"),
		PublicBaseURL:     strings.TrimRight(configViper.GetString("public.base_url"), "/"),
		AllowedOrigins:    splitList(configViper.GetStringSlice("cors.allowed_origins")),
		GitHub:            providerCredentials(configViper, "github"),
		Google:            providerCredentials(configViper, "google"),
		Facebook:          providerCredentials(configViper, "facebook"),
		GoogleJWKSURL:     configViper.GetString("google.jwks_url"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// CallbackURL returns the redirect URL registered with provider.
func (c AppConfig) CallbackURL(provider string) string {
	return c.PublicBaseURL + "/auth/" + provider + "/callback"
}

func providerCredentials(configViper *viper.Viper, name string) ProviderCredentials {
	return ProviderCredentials{
		ClientID:     configViper.GetString("providers." + name + ".client_id"),
		ClientSecret: configViper.GetString("providers." + name + ".client_secret"),
	}
}

// splitList accepts both list values and a single comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 || c.RememberTTL <= 0 {
		return fmt.Errorf("session ttl values must be positive")
	}
	if c.ExchangeWindow <= 0 {
		return fmt.Errorf("exchange.window must be positive")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	for name, credentials := range map[string]ProviderCredentials{
		"github": c.GitHub, "google": c.Google, "facebook": c.Facebook,
	} {
		if credentials.Enabled() && strings.TrimSpace(credentials.ClientSecret) == "" {
			return fmt.Errorf("providers.%s.client_secret is required when client_id is set", name)
		}
	}
	return nil
}
