package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// MinSyncInterval is the shortest accepted sync interval. Shorter values would
// keep the repeating timer permanently inside its own warm-up window.
const MinSyncInterval = time.Minute

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRegistration(&cfg.Registration)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateSync(cfg *SyncConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Interval < MinSyncInterval {
		errs = append(errs, ValidationError{
			Field:   "sync.interval",
			Message: fmt.Sprintf("must be at least %s", MinSyncInterval),
		})
	}

	if cfg.HistoryRetention < 1 {
		errs = append(errs, ValidationError{
			Field:   "sync.history_retention",
			Message: "must be at least 1",
		})
	}

	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sync.timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateRegistration(cfg *RegistrationConfig) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(cfg.DefaultContext) == "" {
		errs = append(errs, ValidationError{
			Field:   "registration.default_context",
			Message: "required",
		})
	}

	return errs
}

func validateEvents(cfg *EventsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.ProcessInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "events.process_interval",
			Message: "must be positive",
		})
	}

	if cfg.Retention < 0 {
		errs = append(errs, ValidationError{
			Field:   "events.retention",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "must be host:port",
		})
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with '/'",
		})
	}

	return errs
}
