package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_FileValues(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: sqlite
  sqlitePath: /tmp/pf.db
queue:
  name: line_a_updates
  reconnectDelay: 2s
marketplace:
  url: https://market.example.com/api
  timeout: 3s
  retry:
    enabled: true
notifications:
  urls:
    - "generic+https://users.example.com/api/notifications/send-email"
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/pf.db", cfg.Database.SQLitePath)
	assert.Equal(t, "line_a_updates", cfg.Queue.Name)
	assert.Equal(t, 2*time.Second, cfg.Queue.ReconnectDelay)
	assert.Equal(t, 3*time.Second, cfg.Marketplace.Timeout)
	assert.True(t, cfg.Marketplace.Retry.Enabled)
	assert.True(t, cfg.Marketplace.Configured())
	assert.Len(t, cfg.Notify.URLs, 1)

	// defaults survive partial files
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "notifications", cfg.Notify.SubjectPrefix)
	assert.Equal(t, 4, cfg.WorkerPools.Marketplace.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.SummaryTTL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := writeConfig(t, "database:\n  driver: sqlite\n")

	t.Setenv("MARKETPLACE_API_URL", "https://env.example.com")
	t.Setenv("MARKETPLACE_API_KEY", "secret")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("COMPANY_ID", "acme")
	t.Setenv("QUEUE_RECONNECTDELAY", "7s")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Marketplace.URL)
	assert.Equal(t, "secret", cfg.Marketplace.APIKey)
	assert.Equal(t, "nats://broker:4222", cfg.Queue.URL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "acme", cfg.Company.ID)
	assert.Equal(t, 7*time.Second, cfg.Queue.ReconnectDelay)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Run("postgres requires dsn", func(t *testing.T) {
		dir := writeConfig(t, "database:\n  driver: postgres\n")
		t.Setenv("POSTGRES_DSN", "")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "postgresDSN")
	})

	t.Run("unknown driver", func(t *testing.T) {
		dir := writeConfig(t, "database:\n  driver: mongo\n")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "unsupported database.driver")
	})

	t.Run("postgres dsn from env", func(t *testing.T) {
		dir := writeConfig(t, "database:\n  driver: postgres\n")
		t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/pf")
		cfg, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@localhost:5432/pf", cfg.Database.PostgresDSN)
	})
}
