// Package registration records work intervals and decides where a new one
// starts relative to the previous one.
package registration

import (
	"errors"
	"time"
)

// State is the registration state of a context.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// DefaultContext is used when no context is given.
const DefaultContext = "default"

var (
	// ErrAlreadyRunning is returned when starting in a context that already
	// has a running registration.
	ErrAlreadyRunning = errors.New("registration already running")
	// ErrNotRunning is returned when stopping a context with nothing running.
	ErrNotRunning = errors.New("no running registration")
	// ErrStoreWrite is returned when persisting a registration fails. The
	// context keeps its previous state.
	ErrStoreWrite = errors.New("registration store write failed")
	// ErrNotFound is returned when a registration does not exist.
	ErrNotFound = errors.New("registration not found")
)

// TimeRegistration is one interval of work on a task. EndTime is nil while
// the registration is running.
type TimeRegistration struct {
	ID        string     `json:"id" yaml:"id"`
	Context   string     `json:"context" yaml:"context"`
	TaskID    string     `json:"task_id" yaml:"task_id"`
	StartTime time.Time  `json:"start_time" yaml:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Comment   string     `json:"comment,omitempty" yaml:"comment,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// Running reports whether the registration has no end time.
func (r *TimeRegistration) Running() bool {
	return r.EndTime == nil
}

// Duration returns the registered time, measured up to now while running.
func (r *TimeRegistration) Duration(now time.Time) time.Duration {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime)
	}
	return now.Sub(r.StartTime)
}

// Status is the current state of a context.
type Status struct {
	Context string            `json:"context" yaml:"context"`
	State   State             `json:"state" yaml:"state"`
	Running *TimeRegistration `json:"running,omitempty" yaml:"running,omitempty"`
}

// StartResult is returned by Start and Switch.
type StartResult struct {
	Registration *TimeRegistration  `json:"registration" yaml:"registration"`
	Decision     ContinuityDecision `json:"decision" yaml:"decision"`
	// Stopped is the registration Switch ended, if any.
	Stopped *TimeRegistration `json:"stopped,omitempty" yaml:"stopped,omitempty"`
}
