package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "EVERDEALS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "everdeals.db"
	defaultLogLevel       = "info"
	defaultTokenTTL       = 60
	defaultProviderJWKS   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultProviderIssuer = "https://accounts.google.com"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenTTLMinutes  int
	ProviderAudience string
	ProviderJWKSURL  string
	ProviderIssuers  []string
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("provider.jwks_url", defaultProviderJWKS)
	configViper.SetDefault("provider.issuers", []string{defaultProviderIssuer, "accounts.google.com"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTLMinutes:  configViper.GetInt("token.ttl_minutes"),
		ProviderAudience: configViper.GetString("provider.audience"),
		ProviderJWKSURL:  configViper.GetString("provider.jwks_url"),
		ProviderIssuers:  configViper.GetStringSlice("provider.issuers"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ProviderAudience) == "" {
		return fmt.Errorf("provider.audience is required")
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}
