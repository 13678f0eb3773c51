package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_ParsesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
backend:
  base_url: https://portal.example/kv
  token: abc
poll_interval: 45s
fetch_timeout: 3s
store:
  driver: sqlite
  path: /tmp/portal.db
change_detection: nonsense
log_format: xml
basic_auth:
  username: ""
  password: ""
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "https://portal.example/kv", cfg.Backend.BaseURL)
	assert.Equal(t, "abc", cfg.Backend.Token)
	assert.Equal(t, "/events", cfg.Backend.EventsPath)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TombstoneTTL)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ordered", cfg.ChangeDetection)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\npoll_interval: 45s\n"), 0o600))

	t.Setenv("PORTALCAL_LISTEN", ":7070")
	t.Setenv("PORTALCAL_POLL_INTERVAL", "2m")
	t.Setenv("PORTALCAL_BACKEND_BASE_URL", "https://env.example")
	t.Setenv("PORTALCAL_STORE_DRIVER", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, "https://env.example", cfg.Backend.BaseURL)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	cfg.TombstoneTTL = 2 * time.Hour
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidateAndLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Asia/Seoul", cfg.Location().String())

	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Backend.BaseURL = ""
	assert.Error(t, cfg.Validate())
}
