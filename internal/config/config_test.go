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
	path := filepath.Join(t.TempDir(), "genqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "Failed to write test config file")
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Queue.Concurrency, "default concurrency should be 2")
	assert.Equal(t, 2, cfg.Queue.MaxAttempts, "default max attempts should be 2")
	assert.Equal(t, 300*time.Millisecond, cfg.Queue.RetryDelay, "default retry delay should be 300ms")
	assert.Equal(t, BackendFile, cfg.History.Backend)
	assert.Equal(t, 200, cfg.History.MaxEntries)
	assert.False(t, cfg.Journal.Enabled)
	assert.True(t, cfg.HTTP.Enabled)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
queue:
  concurrency: 4
  max_attempts: 3
  retry_delay: 1s
  shutdown_timeout: 30s
history:
  backend: redis
  redis_url: redis://localhost:6379/0
  max_entries: 50
journal:
  enabled: true
  path: /tmp/events.jsonl
grpc:
  enabled: true
  addr: ":6000"
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err, "Load should not return an error")

	assert.Equal(t, 4, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Queue.ShutdownTimeout)
	assert.Equal(t, BackendRedis, cfg.History.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.History.RedisURL)
	assert.Equal(t, 50, cfg.History.MaxEntries)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/events.jsonl", cfg.Journal.Path)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, ":6000", cfg.GRPC.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	// 未指定的欄位保留預設值
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
queue:
  concurrency: "not a number"
  invalid yaml structure
    broken indentation
`)

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{name: "zero concurrency", content: "queue:\n  concurrency: 0\n", field: "Concurrency"},
		{name: "negative delay", content: "queue:\n  retry_delay: -1s\n", field: "RetryDelay"},
		{name: "unknown backend", content: "history:\n  backend: s3\n", field: "Backend"},
		{name: "redis without url", content: "history:\n  backend: redis\n", field: "RedisURL"},
		{name: "journal without path", content: "journal:\n  enabled: true\n  path: \"\"\n", field: "Path"},
		{name: "bad log level", content: "log:\n  level: loud\n", field: "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GENQUEUE_CONCURRENCY", "5")
	t.Setenv("GENQUEUE_RETRY_DELAY", "50ms")
	t.Setenv("GENQUEUE_HISTORY_BACKEND", "none")
	t.Setenv("GENQUEUE_HTTP_ENABLED", "false")
	t.Setenv("GENQUEUE_LOG_LEVEL", "warn")

	path := writeConfig(t, "queue:\n  concurrency: 3\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.Concurrency, "env should override YAML")
	assert.Equal(t, 50*time.Millisecond, cfg.Queue.RetryDelay)
	assert.Equal(t, BackendNone, cfg.History.Backend)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("GENQUEUE_MAX_ATTEMPTS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENQUEUE_MAX_ATTEMPTS")
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GENQUEUE_MAX_ATTEMPTS=4\n"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("GENQUEUE_MAX_ATTEMPTS")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Queue.MaxAttempts)
}

func TestQueueOptions(t *testing.T) {
	cfg := Default()
	cfg.Queue.Concurrency = 3
	cfg.History.MaxEntries = 10

	qc := cfg.QueueOptions()
	assert.Equal(t, 3, qc.Concurrency)
	assert.Equal(t, 2, qc.DefaultMaxAttempts)
	assert.Equal(t, 300*time.Millisecond, qc.RetryDelay)
	assert.Equal(t, 10, qc.HistoryLimit)
}
