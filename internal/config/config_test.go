package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8777, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "https://debridmediamanager.com", cfg.Debrid.BaseURL)
	assert.True(t, cfg.Debrid.Headless)
	assert.Equal(t, 500, cfg.Queue.Capacity)
	assert.Equal(t, 75, cfg.Matching.SearchThreshold)
	assert.Equal(t, 60, cfg.Tasks.RefreshIntervalMinutes)
	assert.False(t, cfg.Tasks.EnableRequestRecheck)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
trakt:
  api_key: trakt-key
overseerr:
  base_url: http://overseerr:5055
  api_key: over-key
queue:
  capacity: 42
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "trakt-key", cfg.Trakt.APIKey)
	assert.Equal(t, "http://overseerr:5055", cfg.Overseerr.BaseURL)
	assert.Equal(t, 42, cfg.Queue.Capacity)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	t.Setenv("BRIDGEARR_SERVER_PORT", "9100")
	t.Setenv("BRIDGEARR_TRAKT_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.Trakt.APIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Trakt:     TraktConfig{APIKey: "k"},
			Overseerr: OverseerrConfig{BaseURL: "http://localhost:5055", APIKey: "k"},
			Queue:     QueueConfig{Capacity: 10},
		}
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Trakt.APIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "trakt.api_key")

	cfg = valid()
	cfg.Overseerr.BaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "overseerr.base_url")

	cfg = valid()
	cfg.Overseerr.APIKey = ""
	assert.ErrorContains(t, cfg.Validate(), "overseerr.api_key")

	cfg = valid()
	cfg.Queue.Capacity = 0
	assert.ErrorContains(t, cfg.Validate(), "queue.capacity")
}

func TestServerAddress(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8777}
	assert.Equal(t, "127.0.0.1:8777", sc.Address())
}
