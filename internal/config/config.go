// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads and validates the passkey server configuration from
// a YAML file with environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	Logging      LoggingConfig   `yaml:"logging"`
	RelyingParty RPConfig        `yaml:"relying_party"`
	RateLimit    RateLimitConfig `yaml:"ratelimit"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Health       HealthConfig    `yaml:"health"`
	Storage      StorageConfig   `yaml:"storage"`
	Token        TokenConfig     `yaml:"token"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReadTimeoutSeconds and WriteTimeoutSeconds bound request handling.
	ReadTimeoutSeconds  int `yaml:"read_timeout"`
	WriteTimeoutSeconds int `yaml:"write_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// RPConfig contains the relying party settings for ceremonies.
type RPConfig struct {
	ID                  string   `yaml:"id"`
	DisplayName         string   `yaml:"display_name"`
	Origins             []string `yaml:"origins"`
	ChallengeTTLSeconds int      `yaml:"challenge_ttl"`
	UserVerification    string   `yaml:"user_verification"`
	Attestation         string   `yaml:"attestation"`
	ResidentKey         string   `yaml:"resident_key"`
	Attachment          string   `yaml:"authenticator_attachment"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig controls the credential and challenge backend
type StorageConfig struct {
	// Backend selects the store implementation: "memory" or "sqlite"
	Backend string `yaml:"backend"`
	// Path is the SQLite database path, ignored for the memory backend
	Path string `yaml:"path"`
	// ReaperIntervalSeconds controls expired challenge cleanup frequency
	ReaperIntervalSeconds int `yaml:"reaper_interval"`
}

// TokenConfig controls post-authentication JWT issuance
type TokenConfig struct {
	Enabled        bool     `yaml:"enabled"`
	KeyFile        string   `yaml:"key_file"` // PEM-encoded private key
	Issuer         string   `yaml:"issuer"`
	Audience       []string `yaml:"audience"`
	ExpiresMinutes int      `yaml:"expires_minutes"`
}

// Default returns a configuration with sensible development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "localhost",
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RelyingParty: RPConfig{
			ID:                  "localhost",
			DisplayName:         "go-passkey",
			Origins:             []string{"http://localhost:8080"},
			ChallengeTTLSeconds: 60,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: true,
			Path:    "/healthz",
		},
		Storage: StorageConfig{
			Backend:               "memory",
			ReaperIntervalSeconds: 60,
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path yields the defaults with overrides
// applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("PASSKEY_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PASSKEY_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			log.Printf("Warning: invalid PASSKEY_PORT value %q, using default %d",
				port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}

	// Logging
	if level := os.Getenv("PASSKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PASSKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("PASSKEY_RP_ID"); rpID != "" {
		cfg.RelyingParty.ID = rpID
	}
	if rpName := os.Getenv("PASSKEY_RP_NAME"); rpName != "" {
		cfg.RelyingParty.DisplayName = rpName
	}
	if origins := os.Getenv("PASSKEY_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cleaned := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			cfg.RelyingParty.Origins = cleaned
		}
	}
	if ttl := os.Getenv("PASSKEY_CHALLENGE_TTL"); ttl != "" {
		seconds, err := strconv.Atoi(ttl)
		if err != nil || seconds < 1 {
			log.Printf("Warning: invalid PASSKEY_CHALLENGE_TTL value %q, using default %d",
				ttl, cfg.RelyingParty.ChallengeTTLSeconds)
		} else {
			cfg.RelyingParty.ChallengeTTLSeconds = seconds
		}
	}

	// Storage
	if backend := os.Getenv("PASSKEY_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if path := os.Getenv("PASSKEY_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}

	// Token issuance
	if keyFile := os.Getenv("PASSKEY_TOKEN_KEY_FILE"); keyFile != "" {
		cfg.Token.Enabled = true
		cfg.Token.KeyFile = keyFile
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite backend requires a storage path")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	if c.Token.Enabled && c.Token.KeyFile == "" {
		return fmt.Errorf("token issuance requires a key file")
	}

	// Delegate relying party validation to the passkey config
	return c.PasskeyConfig().Validate()
}

// PasskeyConfig converts the relying party section to a passkey.Config.
func (c *Config) PasskeyConfig() *passkey.Config {
	cfg := &passkey.Config{
		RPID:                    c.RelyingParty.ID,
		RPDisplayName:           c.RelyingParty.DisplayName,
		RPOrigins:               c.RelyingParty.Origins,
		ChallengeTTL:            time.Duration(c.RelyingParty.ChallengeTTLSeconds) * time.Second,
		UserVerification:        c.RelyingParty.UserVerification,
		AttestationPreference:   c.RelyingParty.Attestation,
		ResidentKeyRequirement:  c.RelyingParty.ResidentKey,
		AuthenticatorAttachment: c.RelyingParty.Attachment,
	}
	cfg.SetDefaults()
	return cfg
}

// ReaperInterval returns the challenge reaper interval as a duration.
func (c *Config) ReaperInterval() time.Duration {
	seconds := c.Storage.ReaperIntervalSeconds
	if seconds < 1 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}
