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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, 8, cfg.Lobby.Capacity)
	assert.Equal(t, 6, cfg.Lobby.CodeLength)
	assert.Equal(t, 16, cfg.Lobby.MaxRetries)
	assert.Equal(t, "TYPERACE_STATE", cfg.NATS.Bucket)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
backend: nats
server:
  port: "9000"
  allowed_origins: ["https://typerace.example"]
  handler_timeout: 2s
lobby:
  capacity: 4
nats:
  url: nats://nats:4222
  subject_prefix: race.fabric
database:
  enabled: true
prompts:
  - "first prompt"
  - "second prompt"
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendNATS, cfg.Backend)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://typerace.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Second, cfg.Server.HandlerTimeout)
	assert.Equal(t, 4, cfg.Lobby.Capacity)
	assert.Equal(t, 6, cfg.Lobby.CodeLength)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "race.fabric", cfg.NATS.SubjectPrefix)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, []string{"first prompt", "second prompt"}, cfg.Prompts)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "7000")
	t.Setenv("LOBBY_CAPACITY", "3")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("DATABASE_ENABLED", "true")
	t.Setenv("TYPERACE_BACKEND", "nats")

	cfg, err := Load(writeConfig(t, "server:\n  port: \"9000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Lobby.Capacity)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, BackendNATS, cfg.Backend)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad yaml", body: "server: [unclosed"},
		{name: "unknown backend", body: "backend: redis"},
		{name: "negative capacity", body: "lobby:\n  capacity: -2"},
		{name: "short codes", body: "lobby:\n  code_length: 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
