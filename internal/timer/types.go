// Package timer provides named repeating triggers. At most one trigger exists
// per name: registering again replaces it and cancelling an unknown name is a
// no-op.
package timer

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when the service cannot accept registrations.
	ErrUnavailable = errors.New("timer service unavailable")
	// ErrInvalidRegistration is returned for an empty name or non-positive period.
	ErrInvalidRegistration = errors.New("invalid timer registration")
)

// Service registers and cancels named repeating triggers.
type Service interface {
	// Register installs a trigger that first fires at nextFireAt and then
	// every period. An existing trigger with the same name is replaced.
	Register(ctx context.Context, name string, nextFireAt time.Time, period time.Duration) error
	// Cancel removes the trigger with the given name, if any.
	Cancel(ctx context.Context, name string) error
}

// Pending describes an armed trigger.
type Pending struct {
	Name         string        `json:"name" yaml:"name"`
	NextFireAt   time.Time     `json:"next_fire_at" yaml:"next_fire_at"`
	Period       time.Duration `json:"period" yaml:"period"`
	RegisteredAt time.Time     `json:"registered_at" yaml:"registered_at"`
}

// FireFunc is called each time a trigger fires.
type FireFunc func(ctx context.Context, name string, firedAt time.Time)
