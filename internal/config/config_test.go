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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60, cfg.RelyingParty.ChallengeTTLSeconds)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Health.Enabled)
	assert.False(t, cfg.Token.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_YAMLFile(t *testing.T) {
	content := `
server:
  host: 0.0.0.0
  port: 9443
logging:
  level: debug
  format: json
relying_party:
  id: example.com
  display_name: Example Corp
  origins:
    - https://example.com
    - https://www.example.com
  challenge_ttl: 120
  user_verification: required
storage:
  backend: sqlite
  path: /var/lib/passkey/passkey.db
ratelimit:
  enabled: true
  requests_per_min: 30
  burst: 10
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "example.com", cfg.RelyingParty.ID)
	assert.Len(t, cfg.RelyingParty.Origins, 2)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMin)

	pc := cfg.PasskeyConfig()
	assert.Equal(t, "example.com", pc.RPID)
	assert.Equal(t, 2*time.Minute, pc.ChallengeTTL)
	assert.Equal(t, "required", pc.UserVerification)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PASSKEY_HOST", "10.1.2.3")
	t.Setenv("PASSKEY_PORT", "9000")
	t.Setenv("PASSKEY_LOG_LEVEL", "warn")
	t.Setenv("PASSKEY_RP_ID", "env.example.com")
	t.Setenv("PASSKEY_RP_ORIGINS", "https://env.example.com, https://alt.example.com")
	t.Setenv("PASSKEY_CHALLENGE_TTL", "90")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.1.2.3", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "env.example.com", cfg.RelyingParty.ID)
	assert.Equal(t, []string{"https://env.example.com", "https://alt.example.com"}, cfg.RelyingParty.Origins)
	assert.Equal(t, 90, cfg.RelyingParty.ChallengeTTLSeconds)
}

func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("PASSKEY_PORT", "not-a-port")
	t.Setenv("PASSKEY_CHALLENGE_TTL", "-5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, Default().RelyingParty.ChallengeTTLSeconds, cfg.RelyingParty.ChallengeTTLSeconds)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "out of range",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "invalid storage backend",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantErr: "requires a storage path",
		},
		{
			name:    "token without key",
			mutate:  func(c *Config) { c.Token.Enabled = true },
			wantErr: "requires a key file",
		},
		{
			name:    "missing rp id",
			mutate:  func(c *Config) { c.RelyingParty.ID = "" },
			wantErr: "RPID",
		},
		{
			name:    "no origins",
			mutate:  func(c *Config) { c.RelyingParty.Origins = nil },
			wantErr: "RPOrigin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReaperInterval(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Minute, cfg.ReaperInterval())

	cfg.Storage.ReaperIntervalSeconds = 5
	assert.Equal(t, 5*time.Second, cfg.ReaperInterval())

	cfg.Storage.ReaperIntervalSeconds = 0
	assert.Equal(t, time.Minute, cfg.ReaperInterval())
}
