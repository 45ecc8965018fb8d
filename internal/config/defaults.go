package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "worktime.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Sync defaults.
	DefaultSyncInterval     = 24 * time.Hour
	DefaultHistoryRetention = 50
	DefaultSyncTimeout      = 10 * time.Minute

	// Registration defaults.
	DefaultContext = "default"

	// Events defaults.
	DefaultEventProcessInterval = time.Second
	DefaultEventRetention       = 7 * 24 * time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsAddress = "127.0.0.1:9477"
	DefaultMetricsPath    = "/metrics"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Sync: SyncConfig{
			Enabled:          true,
			Interval:         DefaultSyncInterval,
			HistoryRetention: DefaultHistoryRetention,
			Timeout:          DefaultSyncTimeout,
		},
		Registration: RegistrationConfig{
			AutoCloseGap:      true,
			DefaultContext:    DefaultContext,
			HideFinishedTasks: true,
			AskIfOnlyOneTask:  false,
		},
		Events: EventsConfig{
			ProcessInterval: DefaultEventProcessInterval,
			Retention:       DefaultEventRetention,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
	}
}
