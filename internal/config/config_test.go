package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DomainDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StorageFile, cfg.Storage.Provider)
	assert.Equal(t, QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, 300*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, GeneratorStub, cfg.Generator.Provider)
	assert.Equal(t, 2*time.Minute, cfg.Generator.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Poller.MinBackoff)
	assert.Equal(t, 30*time.Second, cfg.Poller.MaxBackoff)
	assert.Equal(t, 10, cfg.Poller.MaxConsecutiveErrors)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imagequeue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  provider: S3
  bucket: images-prod
queue:
  driver: sqs
  url: https://sqs.us-east-1.amazonaws.com/123456789012/jobs
  visibility_timeout: 10m
generator:
  provider: openai
  api_key_secret_id: prod/openai
cdn:
  base_url: https://cdn.example.com/
`), 0o600))

	SetConfigFile(path)
	defer SetConfigFile("")

	t.Setenv("IMAGEQUEUE_STORAGE_BUCKET", "images-env")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StorageS3, cfg.Storage.Provider)
	assert.Equal(t, "images-env", cfg.Storage.Bucket, "env wins over file")
	assert.Equal(t, QueueSQS, cfg.Queue.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, "prod/openai", cfg.Generator.APIKeySecretID)
	assert.Equal(t, "https://cdn.example.com", cfg.CDN.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	defer SetConfigFile("")

	_, err := Load(context.Background())
	require.Error(t, err)
}

func TestLoadDotEnv_DoesNotReplaceSetVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMAGEQUEUE_TEST_A=from-file\nIMAGEQUEUE_TEST_B=from-file\n"), 0o600))

	t.Setenv("IMAGEQUEUE_TEST_A", "from-env")
	t.Setenv("IMAGEQUEUE_TEST_B", "")
	require.NoError(t, os.Unsetenv("IMAGEQUEUE_TEST_B"))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("IMAGEQUEUE_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("IMAGEQUEUE_TEST_B"))

	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"server": map[string]any{"port": 1, "tls": map[string]any{"enabled": true}},
		"workers": 2,
	})
	assert.Equal(t, map[string]any{
		"server.port":        1,
		"server.tls.enabled": true,
		"workers":            2,
	}, got)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(context.Background())
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{"s3 without bucket", func(c *Config) { c.Storage.Provider = StorageS3; c.Storage.Bucket = "" }, "storage.bucket"},
		{"file without dir", func(c *Config) { c.Storage.BaseDir = "" }, "storage.base_dir"},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "gcs" }, "storage.provider"},
		{"sqs without url", func(c *Config) { c.Queue.Driver = QueueSQS }, "queue.url"},
		{"redis without addr", func(c *Config) { c.Queue.Driver = QueueRedis; c.Queue.Redis.Addr = "" }, "queue.redis.addr"},
		{"unknown queue", func(c *Config) { c.Queue.Driver = "kafka" }, "queue.driver"},
		{"openai without key", func(c *Config) { c.Generator.Provider = GeneratorOpenAI }, "generator.api_key"},
		{"unknown generator", func(c *Config) { c.Generator.Provider = "dalle" }, "generator.provider"},
		{"zero timeout", func(c *Config) { c.Generator.Timeout = 0 }, "generator.timeout"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
