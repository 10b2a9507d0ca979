// Package config loads Warden settings from the environment.
//
// All knobs live under the WARDEN_ prefix. Secrets (signing keys, token
// secrets, the admin password hash) come exclusively from the environment
// and are never written back out.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds everything the control plane needs at startup.
type Config struct {
	// Database configuration. An empty DSN selects the in-memory stores,
	// which is the mode tests and local demos run in.
	Database DatabaseConfig

	Audit     AuditConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Rotation  RotationConfig
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	DSN          string `env:"WARDEN_PG_DSN" env-default:""`
	MaxOpenConns int    `env:"WARDEN_PG_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int    `env:"WARDEN_PG_MAX_IDLE_CONNS" env-default:"5"`
}

// AuditConfig holds ledger settings. SigningKey is a secret.
type AuditConfig struct {
	SigningKey string `env:"WARDEN_AUDIT_SIGNING_KEY"`
}

// AuthConfig holds token and credential settings. TokenSecret and
// AdminPasswordHash are secrets.
type AuthConfig struct {
	TokenSecret       string        `env:"WARDEN_TOKEN_SECRET"`
	AdminPasswordHash string        `env:"WARDEN_ADMIN_PASSWORD_HASH"`
	AdminUserID       string        `env:"WARDEN_ADMIN_USER_ID" env-default:"admin"`
	Issuer            string        `env:"WARDEN_ISSUER" env-default:"warden"`
	AccessTokenTTL    time.Duration `env:"WARDEN_ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTokenTTL   time.Duration `env:"WARDEN_REFRESH_TOKEN_TTL" env-default:"168h"`
	APIKeyPrefix      string        `env:"WARDEN_API_KEY_PREFIX" env-default:"sck"`
	CleanupInterval   time.Duration `env:"WARDEN_TOKEN_CLEANUP_INTERVAL" env-default:"1h"`
}

// RateLimitConfig holds the process-wide default rule and sweep cadence.
// Named rules are managed at runtime through the limiter itself.
type RateLimitConfig struct {
	DefaultMaxRequests int           `env:"WARDEN_RATE_DEFAULT_MAX" env-default:"60"`
	DefaultWindow      time.Duration `env:"WARDEN_RATE_DEFAULT_WINDOW" env-default:"1m"`
	SweepInterval      time.Duration `env:"WARDEN_RATE_SWEEP_INTERVAL" env-default:"60s"`
}

// RotationConfig holds secret-rotation bookkeeping settings.
type RotationConfig struct {
	PreviousValueTTL time.Duration `env:"WARDEN_ROTATION_GRACE" env-default:"24h"`
}

// Load reads configuration from the environment. It does not validate
// secrets; commands that need them call Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants required to run the full control plane.
// Migration-only commands skip this so they can run with just the DSN.
func (c *Config) Validate() error {
	if len(c.Audit.SigningKey) < 32 {
		return fmt.Errorf("config: WARDEN_AUDIT_SIGNING_KEY must be at least 32 characters")
	}
	if len(c.Auth.TokenSecret) < 32 {
		return fmt.Errorf("config: WARDEN_TOKEN_SECRET must be at least 32 characters")
	}
	if c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("config: WARDEN_ADMIN_PASSWORD_HASH is required")
	}
	if c.RateLimit.DefaultMaxRequests <= 0 {
		return fmt.Errorf("config: WARDEN_RATE_DEFAULT_MAX must be positive")
	}
	if c.RateLimit.DefaultWindow <= 0 {
		return fmt.Errorf("config: WARDEN_RATE_DEFAULT_WINDOW must be positive")
	}
	return nil
}
