package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves values unset.
const (
	// DefaultListen is the fallback HTTP listen address.
	DefaultListen = ":8317"
	// DefaultDailyQuota is the fallback per-token daily request quota.
	DefaultDailyQuota = 200
	// DefaultSessionTTL is the fallback admin session lifetime.
	DefaultSessionTTL = 12 * time.Hour
	// DefaultGeneratorTimeout is the fallback callout generator timeout.
	DefaultGeneratorTimeout = 60 * time.Second
	// DefaultRetentionDays is the fallback usage event retention window.
	DefaultRetentionDays = 90
)

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path or PostgreSQL DSN.
}

// AdminConfig holds settings for the privileged admin surface.
type AdminConfig struct {
	Password     string `yaml:"password"`      // Shared admin secret (plaintext).
	PasswordHash string `yaml:"password-hash"` // Bcrypt hash; takes precedence over password.
	JWTSecret    string `yaml:"jwt-secret"`    // HMAC secret for admin session cookies.

	SessionTTLHours int `yaml:"session-ttl-hours"` // Admin session lifetime in hours.
}

// QuotaConfig holds quota defaults for newly issued tokens.
type QuotaConfig struct {
	DefaultDaily int `yaml:"default-daily"` // Daily quota assigned when issuance omits one.
}

// UsageConfig holds settings for the usage event log.
type UsageConfig struct {
	RetentionDays int `yaml:"retention-days"` // Days to keep usage events; 0 keeps forever.
}

// GeneratorConfig holds settings for the callout generator upstream.
type GeneratorConfig struct {
	BaseURL        string `yaml:"base-url"`        // Chat completions endpoint base URL.
	APIKey         string `yaml:"api-key"`         // Upstream API key.
	Model          string `yaml:"model"`           // Model identifier.
	TimeoutSeconds int    `yaml:"timeout-seconds"` // Request timeout in seconds.
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // logrus level name.
	File       string `yaml:"file"`         // Log file path; empty logs to stderr.
	MaxSizeMB  int    `yaml:"max-size-mb"`  // Rotate after this many megabytes.
	MaxBackups int    `yaml:"max-backups"`  // Rotated files to keep.
	MaxAgeDays int    `yaml:"max-age-days"` // Days to keep rotated files.
}

// Config is the process-wide configuration, loaded once at startup and passed
// by reference into the components that need it.
type Config struct {
	Listen string `yaml:"listen"` // HTTP listen address.

	Database DatabaseConfig `yaml:"database"` // Database settings.

	TokenSalt string `yaml:"token-salt"` // Server-held salt for token hashing. Never logged.

	Admin     AdminConfig     `yaml:"admin"`     // Admin surface settings.
	Quota     QuotaConfig     `yaml:"quota"`     // Quota defaults.
	Usage     UsageConfig     `yaml:"usage"`     // Usage log settings.
	Generator GeneratorConfig `yaml:"generator"` // Callout generator settings.
	Logging   LoggingConfig   `yaml:"logging"`   // Logging settings.
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result. A missing file is not an error when the required
// values arrive via environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case errors.Is(errRead, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment. The variable names
// match the ones the deployment scripts already export.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("LOOTMORE_TOKEN_SALT")); v != "" {
		c.TokenSalt = v
	}
	if v := strings.TrimSpace(os.Getenv("LOOTMORE_ADMIN_PASSWORD")); v != "" {
		c.Admin.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("LOOTMORE_DATABASE_DSN")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LOOTMORE_GENERATOR_API_KEY")); v != "" {
		c.Generator.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LOOTMORE_LISTEN")); v != "" {
		c.Listen = v
	}
}

// applyDefaults fills unset values with defaults.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = "file:lootmore.db"
	}
	if c.Quota.DefaultDaily <= 0 {
		c.Quota.DefaultDaily = DefaultDailyQuota
	}
	if c.Usage.RetentionDays < 0 {
		c.Usage.RetentionDays = 0
	}
	if c.Admin.SessionTTLHours <= 0 {
		c.Admin.SessionTTLHours = int(DefaultSessionTTL / time.Hour)
	}
	if c.Generator.TimeoutSeconds <= 0 {
		c.Generator.TimeoutSeconds = int(DefaultGeneratorTimeout / time.Second)
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required secrets are present. The service must refuse
// to start without them rather than degrade silently.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TokenSalt) == "" {
		return errors.New("config: token-salt is required (set LOOTMORE_TOKEN_SALT)")
	}
	if strings.TrimSpace(c.Admin.Password) == "" && strings.TrimSpace(c.Admin.PasswordHash) == "" {
		return errors.New("config: admin password is required (set LOOTMORE_ADMIN_PASSWORD)")
	}
	if strings.TrimSpace(c.Admin.JWTSecret) == "" {
		return errors.New("config: admin jwt-secret is required")
	}
	return nil
}

// SessionTTL returns the admin session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Admin.SessionTTLHours) * time.Hour
}

// GeneratorTimeout returns the callout generator request timeout.
func (c *Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}
