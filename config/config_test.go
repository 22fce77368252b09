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
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "auto", cfg.Models.Accelerator)
	assert.Equal(t, "@every 30s", cfg.Queue.SweepSchedule)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.Kafka.Brokers)
	assert.False(t, cfg.Events.Kafka.Enabled)
}

func TestLoadBundledFile(t *testing.T) {
	cfg, err := Load(".")
	require.NoError(t, err)
	assert.Equal(t, "rembg:", cfg.Store.Redis.Prefix)
	assert.Equal(t, 5*time.Minute, cfg.Store.Postgres.ConnMaxLifetime)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  port: \"9000\"\nstore:\n  backend: redis\n  redis:\n    addr: cache:6379\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("REMBG_SERVER_PORT", "9100")
	t.Setenv("REMBG_MODELS_ACCELERATOR", "none")
	t.Setenv("REMBG_EVENTS_KAFKA_ENABLED", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "none", cfg.Models.Accelerator)
	assert.True(t, cfg.Events.Kafka.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"REMBG_STORE_BACKEND": "sqlite"}},
		{name: "unknown log format", env: map[string]string{"REMBG_LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o600))
	_, err := Load(dir)
	assert.Error(t, err)
}
