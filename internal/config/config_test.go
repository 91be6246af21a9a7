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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ListenAddr())
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, cfg.Session.Timeout, cfg.Session.HiddenTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Upload.CredentialTTL)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
storage:
  bucket: site-media
  region: auto
session:
  timeout: 15m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())
	assert.Equal(t, "site-media", cfg.Storage.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Session.HiddenTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	t.Setenv("SITEMEDIA_SERVER_PORT", "7000")
	t.Setenv("SITEMEDIA_STORAGE_BUCKET", "override-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "override-bucket", cfg.Storage.Bucket)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
