package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/biosync/pkg/models"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.TTL)
	assert.Equal(t, 500, cfg.Storage.PageSize)
	assert.Equal(t, 2, cfg.Remote.ListLimit)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Empty(t, cfg.Folders.Map())
	assert.False(t, cfg.RemoteConfigured())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  key: from-file
remote:
  endpoint: minio.local:9000
  bucket: exports
folders:
  heart_rate: hr
  sleep: sleep
storage:
  driver: badger
  ttl: 48h
decode:
  timezone: Europe/Berlin
`), 0o600))

	t.Setenv("BIOSYNC_API_KEY", "from-env")
	t.Setenv("BIOSYNC_STORAGE_PAGE_SIZE", "50")
	t.Setenv("BIOSYNC_REMOTE_SECURE", "false")
	t.Setenv("BIOSYNC_UNRELATED", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.Key)
	assert.Equal(t, "minio.local:9000", cfg.Remote.Endpoint)
	assert.False(t, cfg.Remote.Secure)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Storage.TTL)
	assert.Equal(t, 50, cfg.Storage.PageSize)
	assert.True(t, cfg.RemoteConfigured())
	assert.Equal(t, map[models.Category]string{
		models.HeartRateCategory: "hr",
		models.SleepCategory:     "sleep",
	}, cfg.Folders.Map())

	loc, err := cfg.Decode.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadFindsDefaultFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "biosync.yaml"), []byte("storage:\n  driver: memory\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Path = "" }},
		{name: "zero ttl", mutate: func(c *Config) { c.Storage.TTL = 0 }},
		{name: "zero page size", mutate: func(c *Config) { c.Storage.PageSize = 0 }},
		{name: "zero list limit", mutate: func(c *Config) { c.Remote.ListLimit = 0 }},
		{name: "zero interval", mutate: func(c *Config) { c.Sync.Interval = 0 }},
		{name: "bad timezone", mutate: func(c *Config) { c.Decode.Timezone = "Mars/Olympus" }},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }},
	}

	require.NoError(t, defaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
