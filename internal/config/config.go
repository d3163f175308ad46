// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the user store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs session cookies.
	SessionPrivateKey string `mapstructure:"SESSION_PRIVATE_KEY"`
	// SessionPublicKey is the PEM-encoded public key or path to file; verifies session cookies.
	SessionPublicKey string `mapstructure:"SESSION_PUBLIC_KEY"`
	// SessionIssuer is the iss claim on session tokens.
	SessionIssuer string `mapstructure:"SESSION_ISSUER"`
	// SessionAudience is the aud claim on session tokens.
	SessionAudience string `mapstructure:"SESSION_AUDIENCE"`
	// SessionTTL is the session cookie lifetime (e.g. "12h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginMaxAttempts is the number of login POSTs one IP may make per window before throttling.
	LoginMaxAttempts int `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	// LoginWindow is the fixed rate-limit window (e.g. "5m").
	LoginWindow string `mapstructure:"LOGIN_WINDOW"`

	// SAMLSPEntityID is this service's SAML entity ID (e.g. "urn:authgate:sp").
	SAMLSPEntityID string `mapstructure:"SAML_SP_ENTITY_ID"`
	// SAMLIDPEntityID is the expected issuer of inbound assertions.
	SAMLIDPEntityID string `mapstructure:"SAML_IDP_ENTITY_ID"`
	// SAMLIDPMetadataURL is the IdP metadata document URL; fetched once at startup.
	SAMLIDPMetadataURL string `mapstructure:"SAML_IDP_METADATA_URL"`
	// SAMLACSURL is the absolute URL of this service's assertion consumer endpoint.
	SAMLACSURL string `mapstructure:"SAML_ACS_URL"`
	// SAMLAllowUnsolicited accepts IdP-initiated responses with no matching AuthnRequest.
	// Defaults to true to match the original deployment; weakens replay protection.
	SAMLAllowUnsolicited bool `mapstructure:"SAML_ALLOW_UNSOLICITED"`
	// SAMLSPPrivateKey is the PEM private key (or path) used to sign AuthnRequests; optional.
	SAMLSPPrivateKey string `mapstructure:"SAML_SP_PRIVATE_KEY"`
	// SAMLSPCertificate is the PEM certificate (or path) paired with SAMLSPPrivateKey; optional.
	SAMLSPCertificate string `mapstructure:"SAML_SP_CERTIFICATE"`

	// AdminPassword is the bootstrap password for the seeded admin@local account (cmd/seed).
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_ISSUER", "authgate")
	v.SetDefault("SESSION_AUDIENCE", "authgate-app")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_WINDOW", "5m")
	v.SetDefault("SAML_SP_ENTITY_ID", "urn:authgate:sp")
	v.SetDefault("SAML_IDP_ENTITY_ID", "")
	v.SetDefault("SAML_IDP_METADATA_URL", "")
	v.SetDefault("SAML_ACS_URL", "")
	v.SetDefault("SAML_ALLOW_UNSOLICITED", true)
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LoginMaxAttempts <= 0 {
		return nil, errors.New("config: LOGIN_MAX_ATTEMPTS must be positive")
	}
	if cfg.AdminPassword == "" && cfg.Env == "production" {
		return nil, errors.New("config: ADMIN_PASSWORD must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// SessionTTLDuration parses SessionTTL as a time.Duration. Returns 12h if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// LoginWindowDuration parses LoginWindow as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) LoginWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.LoginWindow)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// SAMLEnabled reports whether the federation flow is configured.
func (c *Config) SAMLEnabled() bool {
	return c.SAMLIDPMetadataURL != "" && c.SAMLIDPEntityID != ""
}
