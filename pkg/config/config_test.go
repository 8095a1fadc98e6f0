package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-chatlink/pkg/search"
)

const yamlConfig = `
endpoint: wss://chat.example.com/socket
token: abc
namespaces: ["/", "/chat"]
connection:
  max_reconnect_attempts: 8
  reconnect_delay: 500ms
  reconnect_delay_max: 4s
  timeout: 3s
search:
  mode: remote
  match_mode: fuzzy
  debounce: 150ms
  page_size: 50
  retry_count: 0
cache:
  backend: sqlite
  path: /tmp/chatlink.db
  ttl: 2m
  compression: true
api:
  base_url: https://api.example.com
`

const tomlConfig = `
endpoint = "ws://localhost:3000"
namespaces = ["/"]

[search]
search_keys = ["name", "phone"]
min_characters = 3

[cache]
enabled = false

[network]
probe_url = "http://localhost:8080/generate_204"
check_interval = "10s"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "chatlink.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/socket", cfg.Endpoint)
	assert.Equal(t, []string{"/", "/chat"}, cfg.Namespaces)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL.D())
	assert.True(t, cfg.CacheEnabled())

	conn := cfg.ConnectivityConfig()
	assert.Equal(t, 8, conn.MaxReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, conn.ReconnectBaseDelay)
	assert.Equal(t, 4*time.Second, conn.ReconnectMaxDelay)
	assert.Equal(t, 3*time.Second, conn.RequestTimeout)

	sc := cfg.SearchConfig()
	assert.Equal(t, search.ModeRemote, sc.Mode)
	assert.Equal(t, search.MatchFuzzy, sc.MatchMode)
	assert.Equal(t, 150*time.Millisecond, sc.DebounceDelay)
	assert.Equal(t, 50, sc.PageSize)
	assert.Equal(t, 0, sc.RetryCount, "an explicit zero disables retries")
	assert.Equal(t, 1, sc.MinCharacters, "unset keeps the default")
	assert.Equal(t, 2*time.Minute, sc.CacheTTL)
	assert.True(t, sc.EnableCache)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "chatlink.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:3000", cfg.Endpoint)
	assert.False(t, cfg.CacheEnabled())
	assert.Equal(t, "memory", cfg.Cache.Backend, "defaults survive a partial file")

	sc := cfg.SearchConfig()
	assert.Equal(t, search.ModeLocal, sc.Mode)
	assert.Equal(t, []string{"name", "phone"}, sc.SearchKeys)
	assert.Equal(t, 3, sc.MinCharacters)
	assert.Equal(t, 3, sc.RetryCount, "unset keeps the default")
	assert.False(t, sc.EnableCache)

	nc := cfg.NetworkConfig()
	assert.Equal(t, "http://localhost:8080/generate_204", nc.ProbeURL)
	assert.Equal(t, 10*time.Second, nc.CheckInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvEndpoint, "wss://override.example.com")
	t.Setenv(EnvToken, "from-env")
	t.Setenv(EnvAPIURL, "https://api.override.example.com")

	cfg, err := Load(writeFile(t, "chatlink.yml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "wss://override.example.com", cfg.Endpoint)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, "https://api.override.example.com", cfg.API.BaseURL)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvEndpoint, "ws://localhost:3000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, search.ModeLocal, cfg.SearchConfig().Mode)

	t.Setenv(EnvAPIURL, "http://localhost:4000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, search.ModeRemote, cfg.SearchConfig().Mode, "an API URL implies remote search")
}

func TestExplicitZeroSearchSettings(t *testing.T) {
	cfg, err := Load(writeFile(t, "zero.toml", "endpoint = \"ws://h\"\n[search]\nmin_characters = 0\nretry_count = 0\n"))
	require.NoError(t, err)

	sc := cfg.SearchConfig()
	assert.Equal(t, 0, sc.MinCharacters)
	assert.Equal(t, 0, sc.RetryCount)
	require.NoError(t, sc.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvEndpoint, "")

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"missing endpoint", "a.yaml", "token: x\n"},
		{"http endpoint", "a.yaml", "endpoint: http://chat.example.com\n"},
		{"bad namespace", "a.yaml", "endpoint: ws://h\nnamespaces: [chat]\n"},
		{"unknown mode", "a.yaml", "endpoint: ws://h\nsearch:\n  mode: hybrid\n"},
		{"sqlite without path", "a.yaml", "endpoint: ws://h\ncache:\n  backend: sqlite\n"},
		{"bad duration", "a.toml", "endpoint = \"ws://h\"\n[search]\ndebounce = \"soon\"\n"},
		{"unsupported format", "a.json", "{}"},
		{"negative page size", "a.yaml", "endpoint: ws://h\nsearch:\n  page_size: -5\n"},
		{"negative retry count", "a.toml", "endpoint = \"ws://h\"\n[search]\nretry_count = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
