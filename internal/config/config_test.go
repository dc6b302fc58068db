package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_ProducesValidBundlerConfig(t *testing.T) {
	cfg := Default()
	bc, err := cfg.BundlerConfig()
	require.NoError(t, err)
	require.Equal(t, 20, bc.Client.MaxTokens)
	require.True(t, bc.Client.DropStale)
	require.False(t, bc.Persistence.DropStale)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bundle:
  client:
    maxTokens: 5
    maxLatency: 50ms
stream:
  idleTimeout: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Bundle.Client.MaxTokens)

	idle, err := cfg.IdleTimeout()
	require.NoError(t, err)
	require.Equal(t, "30s", idle.String())

	total, err := cfg.TotalTimeout()
	require.NoError(t, err)
	require.Equal(t, "10m0s", total.String(), "totalTimeout keeps its default when the file omits it")

	// Fields the override omitted keep their defaults.
	require.Equal(t, 200, cfg.Bundle.Persistence.MaxTokens)
}

func TestDefault_ProducesValidPersistRetryConfig(t *testing.T) {
	cfg := Default()
	rc, err := cfg.PersistRetryConfig()
	require.NoError(t, err)
	require.Equal(t, 3, rc.MaxAttempts)
	require.Equal(t, "100ms", rc.BackoffBase.String())
}

func TestOpenStore_RejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Persist.StoreDriver = "dynamo"
	_, err := cfg.OpenStore()
	require.Error(t, err)
}

func TestOpenStore_SqliteDefault(t *testing.T) {
	cfg := Default()
	cfg.Persist.StoreDSN = filepath.Join(t.TempDir(), "chunks.db")
	s, err := cfg.OpenStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
