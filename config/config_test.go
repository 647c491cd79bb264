package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  rate_limit_per_sec: 20
  rate_limit_burst: 40
database:
  dsn: "host=localhost user=fleet dbname=fleet"
storage:
  endpoint: "minio:9000"
  access_key: "minioadmin"
  secret_key: "minioadmin"
  bucket: "models"
  url_expiry_seconds: 600
auth:
  api_key: "secret"
liveness:
  enabled: true
  interval_seconds: 30
  offline_after_seconds: 120
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, float64(20), cfg.Server.RateLimitPerSec)
	assert.Equal(t, 40, cfg.Server.RateLimitBurst)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, "models", cfg.Storage.Bucket)
	assert.Equal(t, 10*time.Minute, cfg.Storage.URLExpiry)
	assert.True(t, cfg.Liveness.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Liveness.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Liveness.OfflineAfter)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Storage.URLExpiry)
	assert.Equal(t, float64(10), cfg.Server.RateLimitPerSec)
	assert.Equal(t, 5, cfg.Server.RateLimitBurst)
	assert.Equal(t, time.Minute, cfg.Liveness.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Liveness.OfflineAfter)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
