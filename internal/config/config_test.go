package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.ReadTimeout)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)

	assert.Equal(t, "hybrid_cache:", cfg.Redis.KeyPrefix)

	assert.True(t, cfg.Providers.OpenAI.Enabled)
	assert.Equal(t, "text-embedding-3-small", cfg.Providers.OpenAI.DefaultModel)

	assert.Equal(t, 10, cfg.Retrieval.MaxChunks)
	assert.Equal(t, 7, cfg.Retrieval.RecommendationDays)

	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 0.3, cfg.Cache.DriftThreshold)

	assert.Equal(t, 5, cfg.Reprocessing.MaxConcurrentDocuments)
	assert.Equal(t, 3, cfg.Reprocessing.MaxConcurrentOperations)
	assert.Equal(t, 100, cfg.Reprocessing.MaxQueueSize)

	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(c *Config) {}, wantErr: false},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero max concurrent operations",
			mutate:  func(c *Config) { c.Reprocessing.MaxConcurrentOperations = 0 },
			wantErr: true,
		},
		{
			name:    "zero max concurrent documents",
			mutate:  func(c *Config) { c.Reprocessing.MaxConcurrentDocuments = 0 },
			wantErr: true,
		},
		{
			name:    "zero max queue size",
			mutate:  func(c *Config) { c.Reprocessing.MaxQueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "drift threshold out of bounds",
			mutate:  func(c *Config) { c.Cache.DriftThreshold = 1.5 },
			wantErr: true,
		},
		{
			name: "idle conns exceed open conns",
			mutate: func(c *Config) {
				c.Database.MaxOpenConns = 5
				c.Database.MaxIdleConns = 10
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CACHE_MAX_ENTRIES", "2500")
	t.Setenv("QUEUE_MAX_CONCURRENT_OPERATIONS", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2500, cfg.Cache.MaxEntries)
	assert.Equal(t, 7, cfg.Reprocessing.MaxConcurrentOperations)
}

func TestLoadThresholdSeedFileDecodesProviderTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	content := `
openai:
  default: 0.7
  min: 0.3
  max: 0.95
  step: 0.1
  retry_list: ["0.7", "0.5", "0.3", "0.1"]
  content_type_adjustments:
    technical: 0.05
    code: 0.10
gemini:
  default: 0.01
  min: 0.001
  max: 0.5
  step: 0.01
  retry_list: ["0.01", "0.005", "0.001", "none"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seeds, err := LoadThresholdSeedFile(path)
	require.NoError(t, err)
	require.Contains(t, seeds, "openai")
	require.Contains(t, seeds, "gemini")
	assert.Equal(t, 0.7, seeds["openai"].Default)
	assert.Equal(t, []string{"0.01", "0.005", "0.001", "none"}, seeds["gemini"].RetryList)

	configs := ToProviderConfigs(seeds)
	require.Len(t, configs["gemini"].RetryList, 4)
	assert.Nil(t, configs["gemini"].RetryList[3])
	require.Len(t, configs["openai"].RetryList, 4)
	assert.NotNil(t, configs["openai"].RetryList[3])
	assert.InDelta(t, 0.1, *configs["openai"].RetryList[3], 0.0001)
}
