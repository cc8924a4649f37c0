package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv("TALLY_DATABASE_URL", "postgres://localhost:5432/tally")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 4, cfg.Runner.WorkerCount)
	assert.Equal(t, 100, cfg.Runner.QueueSize)
	assert.Equal(t, time.Second, cfg.Runner.TickInterval)
	assert.Equal(t, 10, cfg.Runner.FlushEveryTicks)
	assert.Equal(t, int64(1_000_000), cfg.Runner.MaxRangeSpan)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Sweeper.CreatedTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Sweeper.Retention)
	assert.Equal(t, "./artifacts", cfg.Artifacts.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TALLY_DATABASE_URL", "postgres://localhost:5432/tally")
	t.Setenv("TALLY_SERVER_PORT", "9191")
	t.Setenv("TALLY_SERVER_LOG_LEVEL", "debug")
	t.Setenv("TALLY_RUNNER_WORKER_COUNT", "8")
	t.Setenv("TALLY_RUNNER_TICK_INTERVAL", "250ms")
	t.Setenv("TALLY_SWEEPER_RETENTION", "48h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 8, cfg.Runner.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Runner.TickInterval)
	assert.Equal(t, 48*time.Hour, cfg.Sweeper.Retention)
}

func TestLoad_ValidationFailures(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		cfg, err := Load()
		assert.Nil(t, cfg)
		assert.Error(t, err)
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("TALLY_DATABASE_URL", "postgres://localhost:5432/tally")
		t.Setenv("TALLY_SERVER_LOG_LEVEL", "verbose")

		cfg, err := Load()
		assert.Nil(t, cfg)
		assert.Error(t, err)
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("TALLY_DATABASE_URL", "postgres://localhost:5432/tally")
		t.Setenv("TALLY_SERVER_PORT", "70000")

		cfg, err := Load()
		assert.Nil(t, cfg)
		assert.Error(t, err)
	})
}
