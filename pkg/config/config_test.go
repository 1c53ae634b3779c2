package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Indexer.MergeThreshold)
	assert.Equal(t, []string{"content"}, cfg.Indexer.Columns)
	assert.Equal(t, "bolt", cfg.Storage.Driver)
	assert.Equal(t, "auto", cfg.Search.DeferMode)
	assert.Equal(t, 10, cfg.Search.NearDefault)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
indexer:
  columns: [title, body]
  mergeThreshold: 4
  flushInterval: 2s
storage:
  driver: sqlite
  path: /tmp/fts.db
  compression: zstd
search:
  deferMode: never
`), 0o644))

	t.Setenv("SP_STORAGE_PATH", "/var/lib/fts.db")
	t.Setenv("SP_INDEXER_MERGE_THRESHOLD", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "body"}, cfg.Indexer.Columns)
	assert.Equal(t, 8, cfg.Indexer.MergeThreshold)
	assert.Equal(t, 2*time.Second, cfg.Indexer.FlushInterval)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/fts.db", cfg.Storage.Path)
	assert.Equal(t, "zstd", cfg.Storage.Compression)
	assert.Equal(t, "never", cfg.Search.DeferMode)
	assert.Equal(t, 4000, cfg.Indexer.NodeSize, "unset keys keep defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no columns", func(c *Config) { c.Indexer.Columns = nil }},
		{"threshold", func(c *Config) { c.Indexer.MergeThreshold = 1 }},
		{"node size", func(c *Config) { c.Indexer.NodeSize = 10 }},
		{"driver", func(c *Config) { c.Storage.Driver = "s3" }},
		{"compression", func(c *Config) { c.Storage.Compression = "gzip" }},
		{"defer mode", func(c *Config) { c.Search.DeferMode = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
