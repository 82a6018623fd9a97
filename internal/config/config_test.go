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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeOffline, cfg.Mode)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, LockWait, cfg.LockMode)
	assert.Equal(t, 4, cfg.RecomputeWorkers)
	assert.Equal(t, 10*time.Minute, cfg.RecomputeTimeout)
	assert.Equal(t, "none", cfg.Gradebook.Sink)
	assert.Empty(t, cfg.Gradebook.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("LOCK_MODE", "failfast")
	t.Setenv("RECOMPUTE_WORKERS", "8")
	t.Setenv("GRADEBOOK_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, LockFailFast, cfg.LockMode)
	assert.Equal(t, 8, cfg.RecomputeWorkers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Gradebook.KafkaBrokers)
}

func TestLoadRejectsIncompleteSink(t *testing.T) {
	t.Setenv("GRADEBOOK_SINK", "ags")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLockMode(t *testing.T) {
	t.Setenv("LOCK_MODE", "spin")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "peergrade.yaml")
	require.NoError(t, os.WriteFile(file, []byte("db_driver: postgres\nrecompute_workers: 2\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 2, cfg.RecomputeWorkers)
}
