package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrTimerRegistration matches any failure of the timer service.
	ErrTimerRegistration = errors.New("timer registration failed")
	// ErrHistoryUnavailable marks a failed history read. Scheduling continues
	// as if there were no history.
	ErrHistoryUnavailable = errors.New("sync history unavailable")
	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("sync interval must be positive")
	// ErrSyncInProgress is returned when a sync is requested while one runs.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// TimerError reports a timer service failure during Schedule or Unschedule.
type TimerError struct {
	Op    string // "cancel" or "register"
	Timer string
	Err   error
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("%s timer %q: %v", e.Op, e.Timer, e.Err)
}

func (e *TimerError) Unwrap() []error {
	return []error{ErrTimerRegistration, e.Err}
}
