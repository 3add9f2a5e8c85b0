// Package config loads the storefront configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	auth "github.com/goliatone/go-storefront-auth"
)

// MinSigningKeyLength is the shortest HS256 secret accepted
const MinSigningKeyLength = 32

// Config contains server configuration parameters.
type Config struct {
	App      App      `envPrefix:"APP_"`
	Log      Log      `envPrefix:"LOG_"`
	Database Database `envPrefix:"DATABASE_"`
	Auth     Auth     `envPrefix:"AUTH_"`
}

// App contains HTTP server parameters.
type App struct {
	Addr            string `env:"ADDR" envDefault:":8080"`
	Env             string `env:"ENV" envDefault:"development"`
	BaseURL         string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	MaintenanceFile string `env:"MAINTENANCE_FILE" envDefault:"maintenance.json"`
}

// Log contains logger parameters. Format is text, json or pretty.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Database contains database connection parameters.
type Database struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"file:storefront.db?cache=shared"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// Auth contains token and administrator parameters. There is no default
// signing key.
type Auth struct {
	SigningKey          string            `env:"SIGNING_KEY,required,notEmpty"`
	SigningKeyID        string            `env:"SIGNING_KEY_ID" envDefault:"primary"`
	PreviousSigningKeys map[string]string `env:"PREVIOUS_SIGNING_KEYS" envSeparator:"," envKeyValSeparator:":"`
	Issuer              string            `env:"ISSUER" envDefault:"storefront"`
	Audience            []string          `env:"AUDIENCE" envSeparator:","`
	ContextKey          string            `env:"CONTEXT_KEY" envDefault:"user"`
	TokenLookup         string            `env:"TOKEN_LOOKUP"`
	AuthScheme          string            `env:"AUTH_SCHEME" envDefault:"Bearer"`
	CookieName          string            `env:"COOKIE_NAME" envDefault:"storefront_session"`
	CookieSecure        bool              `env:"COOKIE_SECURE" envDefault:"true"`
	AdminEmail          string            `env:"ADMIN_EMAIL,required,notEmpty"`
	AdminPasswordHash   string            `env:"ADMIN_PASSWORD_HASH,required,notEmpty"`
	AdminID             string            `env:"ADMIN_ID"`
}

var _ auth.Config = (*Config)(nil)

// Load loads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFromEnvironment loads configuration from vars instead of the
// process environment.
func LoadFromEnvironment(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values env tags cannot express
func (c *Config) Validate() error {
	if len(c.Auth.SigningKey) < MinSigningKeyLength {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength)
	}

	if !auth.IsPasswordHash(c.Auth.AdminPasswordHash) {
		return fmt.Errorf("AUTH_ADMIN_PASSWORD_HASH must be a bcrypt hash")
	}

	if !strings.Contains(c.Auth.AdminEmail, "@") {
		return fmt.Errorf("AUTH_ADMIN_EMAIL must be an email address")
	}

	for kid, key := range c.Auth.PreviousSigningKeys {
		if kid == c.GetSigningKeyID() {
			return fmt.Errorf("AUTH_PREVIOUS_SIGNING_KEYS must not reuse the current key id %q", kid)
		}
		if len(key) < MinSigningKeyLength {
			return fmt.Errorf("AUTH_PREVIOUS_SIGNING_KEYS entry %q must be at least %d bytes", kid, MinSigningKeyLength)
		}
	}

	return nil
}

func (c *Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

func (c *Config) GetSigningKeyID() string {
	if c.Auth.SigningKeyID == "" {
		return auth.DefaultSigningKeyID
	}
	return c.Auth.SigningKeyID
}

func (c *Config) GetPreviousSigningKeys() map[string]string {
	return c.Auth.PreviousSigningKeys
}

func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}

func (c *Config) GetContextKey() string {
	return c.Auth.ContextKey
}

// GetTokenLookup defaults to the Authorization header followed by the
// session cookie.
func (c *Config) GetTokenLookup() string {
	if c.Auth.TokenLookup != "" {
		return c.Auth.TokenLookup
	}
	lookup := "header:Authorization"
	if c.Auth.CookieName != "" {
		lookup += ",cookie:" + c.Auth.CookieName
	}
	return lookup
}

func (c *Config) GetAuthScheme() string {
	return c.Auth.AuthScheme
}

func (c *Config) GetCookieName() string {
	return c.Auth.CookieName
}

func (c *Config) GetCookieSecure() bool {
	return c.Auth.CookieSecure
}

func (c *Config) GetAdminEmail() string {
	return c.Auth.AdminEmail
}

func (c *Config) GetAdminPasswordHash() string {
	return c.Auth.AdminPasswordHash
}

func (c *Config) GetAdminID() string {
	return c.Auth.AdminID
}
