package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecretFromEnv(t *testing.T) {
	t.Setenv("DRAWBRIDGE_JWT_SECRET", "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "./data/drawbridge.db", cfg.Database.Path)
	require.Equal(t, "env-secret", cfg.Auth.JWTSecret)

	ttl, err := cfg.TokenTTL()
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour, ttl)
}

func TestLoadMissingSecretFails(t *testing.T) {
	t.Setenv("DRAWBRIDGE_JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
database:
  path: /tmp/relay.db
auth:
  jwt_secret: file-secret
  token_ttl: 1h
relay:
  messages_per_second: 50
  message_burst: 75
logging:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "/tmp/relay.db", cfg.Database.Path)
	require.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	require.Equal(t, float64(50), cfg.Relay.MessagesPerSecond)
	require.Equal(t, 75, cfg.Relay.MessageBurst)
	require.Equal(t, "debug", cfg.Logging.Level)

	ttl, err := cfg.TokenTTL()
	require.NoError(t, err)
	require.Equal(t, time.Hour, ttl)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: file-secret\n"), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("DRAWBRIDGE_JWT_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Addr)
	require.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DRAWBRIDGE_JWT_SECRET", "env-secret")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
}

func TestBadTTLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: s\n  token_ttl: soon\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
