package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10, cfg.Orchestrator.MaxTurns)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.ReplyTimeout)
	assert.Equal(t, 3, cfg.Webhook.MaxRetries)
	assert.Equal(t, time.Second, cfg.Webhook.RetryBase)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: voxlens
  password: secret
  name: voxlens
  ssl_mode: require
orchestrator:
  max_turns: 4
  reply_timeout: 10s
providers:
  deepgram:
    api_key: dg-key
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Orchestrator.MaxTurns)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.ReplyTimeout)
	assert.Equal(t, "dg-key", cfg.Providers.Deepgram.APIKey)
	assert.Equal(t,
		"host=db.internal port=5432 user=voxlens password=secret dbname=voxlens sslmode=require",
		cfg.Database.DSN())

	// Untouched sections keep their defaults.
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "nova-2", cfg.Providers.Deepgram.Model)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/voxlens.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: 9000\n")

	t.Setenv("VOXLENS_SERVER_HTTP_PORT", "9100")
	t.Setenv("VOXLENS_PROVIDERS_OPENAI_API_KEY", "sk-test")
	t.Setenv("VOXLENS_ORCHESTRATOR_REPLY_TIMEOUT", "5s")
	t.Setenv("VOXLENS_LOG_OUTPUT_PATHS", "stdout, /var/log/voxlens.log")
	t.Setenv("VOXLENS_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.ReplyTimeout)
	assert.Equal(t, []string{"stdout", "/var/log/voxlens.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("VL_SERVER_HTTP_PORT", "7070")

	cfg, err := NewLoader().WithEnvPrefix("VL").Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, "server:\n  http_port: -1\n")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Providers.Twilio.AccountSID == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Cache.Backend = "memcached"
	cfg.Orchestrator.MaxTurns = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache backend")
	assert.Contains(t, err.Error(), "max_turns")
}
