package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Runner    RunnerConfig    `mapstructure:"runner"    validate:"required"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"   validate:"required"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RunnerConfig controls the task execution engine.
type RunnerConfig struct {
	// WorkerCount bounds how many tasks execute concurrently
	WorkerCount int `mapstructure:"worker_count" validate:"required,gte=1"`

	// QueueSize bounds how many submitted tasks may wait for a worker
	QueueSize int `mapstructure:"queue_size" validate:"required,gte=1"`

	// TickInterval is the wait between successive counter advances
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"required,gt=0"`

	// FlushEveryTicks throttles durable progress writes
	FlushEveryTicks int `mapstructure:"flush_every_ticks" validate:"required,gte=1"`

	// MaxRangeSpan bounds the width of an accepted counting range so a
	// single task cannot run unboundedly; zero disables the bound
	MaxRangeSpan int64 `mapstructure:"max_range_span" validate:"gte=0"`
}

// SweeperConfig controls the staleness sweeper.
type SweeperConfig struct {
	// Interval is the fixed period between sweeps
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0"`

	// CreatedTTL is how long a task may sit unstarted before deletion
	CreatedTTL time.Duration `mapstructure:"created_ttl" validate:"required,gt=0"`

	// Retention is how long terminal tasks are kept before deletion
	Retention time.Duration `mapstructure:"retention" validate:"required,gt=0"`
}

// ArtifactsConfig controls where per-task artifacts are kept.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}
