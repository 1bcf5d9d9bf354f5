package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found.
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "econfeed.db", cfg.Store.SQLitePath)
	assert.Equal(t, "econfeed/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.True(t, cfg.Remediation.Enabled)
	assert.Equal(t, 5, cfg.Remediation.MaxRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Catalog.Path)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `store:
  driver: postgres
  database_url: postgres://localhost/econfeed
catalog:
  path: /etc/econfeed/connectors.yaml
fetch:
  timeout_secs: 10
monitoring:
  webhook_url: https://hooks.example.com/alerts
server:
  port: 9090
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/econfeed", cfg.Store.DatabaseURL)
	assert.Equal(t, "/etc/econfeed/connectors.yaml", cfg.Catalog.Path)
	assert.Equal(t, 10, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, "https://hooks.example.com/alerts", cfg.Monitoring.WebhookURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromEnv(t *testing.T) {
	chtemp(t)
	t.Setenv("ECONFEED_STORE_DRIVER", "postgres")
	t.Setenv("ECONFEED_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chtemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(":\n  not yaml"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	cfg := FetchConfig{TimeoutSecs: 45}
	assert.Equal(t, "45s", cfg.Timeout().String())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level", Format: "json"}))
}
