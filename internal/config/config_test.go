package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, "https://a.klaviyo.com/api/", cfg.Klaviyo.BaseURL)
	assert.Equal(t, "2023-06-15", cfg.Klaviyo.Revision)
	assert.Equal(t, 5*time.Second, cfg.Klaviyo.Timeout)
	assert.Equal(t, 100, cfg.Klaviyo.PageSize)
	assert.Equal(t, 1000, cfg.Klaviyo.MaxPages)
	assert.Equal(t, 3, cfg.Klaviyo.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Klaviyo.Retry.WaitStep)

	assert.True(t, cfg.Dispatch.PerItemIsolation)
	assert.Equal(t, 1, cfg.Analytics.MetricConcurrency)
	assert.Equal(t, 0, cfg.Analytics.FullScanMaxEvents)

	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 7, cfg.Retention.Days)
	assert.Equal(t, "0 1 * * *", cfg.Retention.Schedule)

	assert.False(t, cfg.ProfileCache.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.ProfileCache.TTL)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "relay.events.dispatched", cfg.NATS.Subject)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
klaviyo:
  api_key: pk_test
  timeout: 30s
  page_size: 50
  retry:
    max_retries: 5
    wait_step: 250ms
dispatch:
  per_item_isolation: false
retention:
  days: 14
database:
  postgres:
    host: db
    port: 5433
    user: u
    password: p@ss
    database: logs
    sslmode: require
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "pk_test", cfg.Klaviyo.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Klaviyo.Timeout)
	assert.Equal(t, 50, cfg.Klaviyo.PageSize)
	assert.Equal(t, 5, cfg.Klaviyo.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Klaviyo.Retry.WaitStep)
	assert.False(t, cfg.Dispatch.PerItemIsolation)
	assert.Equal(t, 14, cfg.Retention.Days)
	assert.Equal(t, "postgres://u:p%40ss@db:5433/logs?sslmode=require", cfg.Database.Postgres.ConnString())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RELAY_KLAVIYO_API_KEY", "pk_env")
	t.Setenv("RELAY_RETENTION_DAYS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pk_env", cfg.Klaviyo.APIKey)
	assert.Equal(t, 3, cfg.Retention.Days)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Klaviyo.APIKey = "pk_test"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing api key", mutate: func(c *Config) { c.Klaviyo.APIKey = "" }, wantErr: "api_key"},
		{name: "page size too large", mutate: func(c *Config) { c.Klaviyo.PageSize = 101 }, wantErr: "page_size"},
		{name: "page size zero", mutate: func(c *Config) { c.Klaviyo.PageSize = 0 }, wantErr: "page_size"},
		{name: "negative retention", mutate: func(c *Config) { c.Retention.Days = -1 }, wantErr: "retention.days"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Analytics.MetricConcurrency = 0 }, wantErr: "metric_concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
