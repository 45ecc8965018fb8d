// Package config provides configuration management for worktime.
package config

import (
	"time"
)

// Config is the root configuration structure for worktime.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Events       EventsConfig       `mapstructure:"events"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout in milliseconds
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SyncConfig holds background synchronization settings.
type SyncConfig struct {
	// Enable periodic synchronization. When false the sync timer is removed.
	Enabled bool `mapstructure:"enabled"`

	// Interval between synchronization attempts
	Interval time.Duration `mapstructure:"interval"`

	// Number of sync history records to keep
	HistoryRetention int `mapstructure:"history_retention"`

	// Maximum duration of a single sync attempt
	Timeout time.Duration `mapstructure:"timeout"`

	// Shell command run for each sync attempt. Empty means attempts only
	// record history.
	Command string `mapstructure:"command"`
}

// RegistrationConfig holds time registration settings.
type RegistrationConfig struct {
	// Close gaps shorter than a minute between consecutive registrations
	AutoCloseGap bool `mapstructure:"auto_close_gap"`

	// Context used when none is given on the command line
	DefaultContext string `mapstructure:"default_context"`

	// Hide finished tasks when choosing a task to start
	HideFinishedTasks bool `mapstructure:"hide_finished_tasks"`

	// Ask for a task even if the project only has one
	AskIfOnlyOneTask bool `mapstructure:"ask_if_only_one_task"`
}

// EventsConfig holds event queue settings.
type EventsConfig struct {
	// How often pending events are processed
	ProcessInterval time.Duration `mapstructure:"process_interval"`

	// How long processed events are kept
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}
