package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"SCREENFLOW_DATABASE_DSN", "SCREENFLOW_LLM_API_KEY", "GROQ_API_KEY",
		"SCREENFLOW_STORE_BACKEND", "SCREENFLOW_SERVER_PORT", "SCREENFLOW_LOGGING_LEVEL",
		"SCREENFLOW_KAFKA_BROKERS", "SCREENFLOW_KAFKA_ENABLED",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Address())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.True(t, cfg.Database.MigrateOnStart)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, slog.LevelInfo, cfg.Logging.SlogLevel())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.Model)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, time.Minute, cfg.LLM.Timeout)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.StageTimeout)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENFLOW_SERVER_PORT", "9000")
	t.Setenv("SCREENFLOW_LOGGING_LEVEL", "debug")
	t.Setenv("SCREENFLOW_KAFKA_ENABLED", "true")
	t.Setenv("SCREENFLOW_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("SCREENFLOW_STORE_BACKEND", "postgres")
	t.Setenv("SCREENFLOW_DATABASE_DSN", "postgres://u:p@localhost:5432/screenflow")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://u:p@localhost:5432/screenflow", cfg.Database.DSN)
	assert.Equal(t, "gsk-test", cfg.LLM.APIKey)

	t.Setenv("SCREENFLOW_LLM_API_KEY", "sk-preferred")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-preferred", cfg.LLM.APIKey)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "screenflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8181
store:
  backend: memory
llm:
  model: llama-3.3-70b-versatile
  api_key: ignored-from-file
pipeline:
  stage_timeout: 45s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.LLM.Model)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.StageTimeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without dsn", env: map[string]string{"SCREENFLOW_STORE_BACKEND": "postgres"}},
		{name: "unknown backend", env: map[string]string{"SCREENFLOW_STORE_BACKEND": "redis"}},
		{name: "bad port", env: map[string]string{"SCREENFLOW_SERVER_PORT": "70000"}},
		{name: "bad log level", env: map[string]string{"SCREENFLOW_LOGGING_LEVEL": "verbose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			_, err := Load("")
			require.Error(t, err)
		})
	}
}
