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

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitialize_DefaultsOnly(t *testing.T) {
	// Empty directory: no curio.yaml at all.
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultTaskConfig(), cfg.Task)
	assert.Equal(t, DefaultBusConfig(), cfg.Bus)
	assert.Equal(t, DefaultWorkerConfig(), cfg.Worker)
	assert.True(t, cfg.Reaper.Enabled)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, "comprehensive", cfg.Synthesis.DefaultMode)
}

func TestInitialize_MergesUserSections(t *testing.T) {
	dir := writeConfig(t, `
task:
  max_concurrent_items_default: 4
worker:
  concurrency: 3
bus:
  queue_name: "curio:queue:alt"
redis:
  addr: "redis.internal:6380"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 4, cfg.Task.MaxConcurrentItemsDefault)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, "curio:queue:alt", cfg.Bus.QueueName)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)

	// Unset values keep defaults
	assert.Equal(t, 2*time.Hour, cfg.Task.HandlerTimeout)
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 500, cfg.Bus.EventRingSize)
}

func TestInitialize_ExplicitDisableSurvivesMerge(t *testing.T) {
	dir := writeConfig(t, `
reaper:
  enabled: false
retention:
  enabled: false
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.False(t, cfg.Reaper.Enabled)
	assert.False(t, cfg.Retention.Enabled)
	// Intervals untouched by the disable
	assert.Equal(t, 1*time.Minute, cfg.Reaper.CheckInterval)
	assert.Equal(t, 1*time.Hour, cfg.Retention.CheckInterval)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("CURIO_TEST_DB_HOST", "db.internal")
	dir := writeConfig(t, `
database:
  host: "{{.CURIO_TEST_DB_HOST}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "task: [not a mapping")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
synthesis:
  default_mode: "poetic"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "synthesis.default_mode")
}
