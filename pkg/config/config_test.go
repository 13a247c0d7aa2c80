package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 1500, cfg.ChunkSize)
	assert.Equal(t, 300, cfg.ChunkOverlap)
	assert.Equal(t, 15, cfg.TopK)
	assert.Equal(t, 8*time.Second, cfg.QuestionProcessingDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.RequestsPerMinute)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-gemini-key")
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_REQUESTS_PER_MINUTE", "30")
	t.Setenv("QUESTION_PROCESSING_DELAY", "2s")
	t.Setenv("CHUNK_SIZE", "2000")
	t.Setenv("CHUNK_OVERLAP", "400")
	t.Setenv("TOP_K", "5")
	t.Setenv("MAX_RETRIES", "7")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30, cfg.RequestsPerMinute)
	assert.Equal(t, 2*time.Second, cfg.QuestionProcessingDelay)
	assert.Equal(t, 2000, cfg.ChunkSize)
	assert.Equal(t, 400, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 7, cfg.MaxRetries)
}

func TestLoadFromEnv_DelayAcceptsBareSeconds(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("API_KEY", "k")
	t.Setenv("QUESTION_PROCESSING_DELAY", "12")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.QuestionProcessingDelay)
}

func TestLoadFromEnv_MissingGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "k")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestLoadFromEnv_APIKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "api-key")
	require.NoError(t, os.WriteFile(keyPath, []byte("  file-key\n"), 0o600))

	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("API_KEY", "")
	t.Setenv("API_KEY_PATH", keyPath)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.APIKey)
}

func TestValidate_OverlapMustBeSmallerThanChunkSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GeminiAPIKey = "k"
	cfg.APIKey = "k"
	cfg.ChunkSize = 300
	cfg.ChunkOverlap = 300

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_OVERLAP")
}

func TestLoadFromEnv_ConfigFileAppliedBeforeEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("port: \"7777\"\ntop_k: 9\n"), 0o600))

	t.Setenv("CONFIG_FILE", cfgPath)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("API_KEY", "k")
	t.Setenv("TOP_K", "3") // env wins over file

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Port)
	assert.Equal(t, 3, cfg.TopK)
}
