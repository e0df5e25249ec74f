package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// DEFAULT_TIMEZONE must resolve; schedules with unknown zones fall back to it,
	// so a broken default leaves nowhere to fall.
	if cfg.DefaultTimezone != "" {
		if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "DEFAULT_TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	// SCHEDULER_REFRESH_INTERVAL must be a valid duration
	if cfg.SchedulerRefreshIntervalStr != "" {
		d, err := time.ParseDuration(cfg.SchedulerRefreshIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "SCHEDULER_REFRESH_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "SCHEDULER_REFRESH_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// SWEEPER_THRESHOLD must exceed SWEEPER_INTERVAL, otherwise healthy runs
	// get swept mid-flight.
	if cfg.SweeperThreshold > 0 && cfg.SweeperInterval > 0 && cfg.SweeperThreshold <= cfg.SweeperInterval {
		errs = append(errs, ValidationError{
			Field:   "SWEEPER_THRESHOLD",
			Message: fmt.Sprintf("must exceed SWEEPER_INTERVAL (%s)", cfg.SweeperInterval),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
