package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "coralcity-importer/1.0", cfg.Importer.UserAgent)
	require.Equal(t, 1.0, cfg.Importer.DelaySeconds)
	require.Equal(t, 10, cfg.Importer.ImagesMaxDefault)
	require.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
importer:
  user_agent: test-bot/2.0
  delay_seconds: 0.5
  images_max_default: 3
storage:
  backend: local
  local_dir: /var/lib/importd/photos
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "test-bot/2.0", cfg.Importer.UserAgent)
	require.Equal(t, 0.5, cfg.Importer.DelaySeconds)
	require.Equal(t, 500*time.Millisecond, cfg.Delay())
	require.Equal(t, 3, cfg.Importer.ImagesMaxDefault)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "/var/lib/importd/photos", cfg.Storage.LocalDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"negative delay", func(c *Config) { c.Importer.DelaySeconds = -1 }},
		{"zero images max", func(c *Config) { c.Importer.ImagesMaxDefault = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local"; c.Storage.LocalDir = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs"; c.Storage.GCSBucket = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("IMPORTD_SERVER_PORT", "7000")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
}
