package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the kgraph config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "kgraph")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func TestLoadWithFile_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Embeddings.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Qdrant.RequestTimeout.Duration())
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, "cosine", cfg.Collections.Distance)
	assert.Equal(t, 1536, cfg.Collections.VectorSize)
	assert.True(t, cfg.Collections.Quantization.Enabled)
	assert.Equal(t, 1, cfg.Collections.ReplicationFactor)
	assert.Equal(t, 1, cfg.Collections.ShardNumber)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL.Duration())
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.InDelta(t, 0.7, cfg.Search.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.4, cfg.Search.MinScore, 1e-9)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `vectorstore:
  provider: chromem
  chromem:
    path: /tmp/kg
collections:
  prefix: test_
  quantization:
    enabled: false
cache:
  ttl: 2m
  max_entries: 50
retry:
  attempts: 5
  base_delay: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, "/tmp/kg", cfg.VectorStore.Chromem.Path)
	assert.Equal(t, "test_", cfg.Collections.Prefix)
	assert.False(t, cfg.Collections.Quantization.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL.Duration())
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.Duration())
	// Untouched values keep their defaults.
	assert.Equal(t, 6334, cfg.Qdrant.Port)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("qdrant:\n  host: from-file\n"), 0600))

	t.Setenv("KGRAPH_QDRANT_HOST", "from-env")
	t.Setenv("KGRAPH_QDRANT_API_KEY", "s3cret")
	t.Setenv("KGRAPH_EMBEDDINGS_BATCH_SIZE", "25")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Qdrant.Host)
	assert.Equal(t, "s3cret", cfg.Qdrant.APIKey.Value())
	assert.Equal(t, 25, cfg.Embeddings.BatchSize)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9191\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsPrefixSibling(t *testing.T) {
	dir := setupTestHome(t)

	_, err := LoadWithFile(dir + "-evil/config.yaml")
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"KGRAPH_QDRANT_HOST", "qdrant.host"},
		{"KGRAPH_QDRANT_API_KEY", "qdrant.api_key"},
		{"KGRAPH_SERVER_HTTP_PORT", "server.http_port"},
		{"KGRAPH_DEBUG", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "vectorstore.provider"},
		{"dimension mismatch", func(c *Config) { c.Embeddings.Dimension = 384 }, "embeddings.dimension"},
		{"bad distance", func(c *Config) { c.Collections.Distance = "hamming" }, "collections.distance"},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -1 }, "search weights"},
		{"bad quantile", func(c *Config) { c.Collections.Quantization.Quantile = 1.5 }, "quantile"},
		{"limit over max", func(c *Config) { c.Search.DefaultLimit = 500 }, "search.default_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-live-123")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "sk-live-123", s.Value())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
