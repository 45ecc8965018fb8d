// Package scheduler decides when the periodic sync fires and keeps exactly one
// repeating timer armed for it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/metrics"
	"github.com/watzon/worktime/internal/timer"
)

// SyncScheduler arms the sync timer from the last sync attempt and the
// configured interval.
type SyncScheduler struct {
	timers  timer.Service
	history HistoryReader
	clock   clock.Clock
	name    string
	mu      sync.Mutex
}

// Options holds optional SyncScheduler settings.
type Options struct {
	// TimerName overrides TimerName.
	TimerName string
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// NewSyncScheduler creates a scheduler driving timers.
func NewSyncScheduler(timers timer.Service, history HistoryReader, opts *Options) *SyncScheduler {
	if opts == nil {
		opts = &Options{}
	}
	if opts.TimerName == "" {
		opts.TimerName = TimerName
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &SyncScheduler{
		timers:  timers,
		history: history,
		clock:   opts.Clock,
		name:    opts.TimerName,
	}
}

// TimerName returns the name of the trigger this scheduler owns.
func (s *SyncScheduler) TimerName() string {
	return s.name
}

// Schedule cancels the sync timer and registers it again according to
// ComputePlan. Timer failures are returned as *TimerError and are not
// retried; calling Schedule again is the retry path.
func (s *SyncScheduler) Schedule(ctx context.Context, interval time.Duration) (Plan, error) {
	if interval <= 0 {
		return Plan{}, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.history.Latest(ctx)
	if err != nil {
		log.Warn().
			Err(fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)).
			Msg("Scheduling sync as if it never ran")
		last = nil
	}

	plan := ComputePlan(last, interval, s.clock.Now())

	if err := s.timers.Cancel(ctx, s.name); err != nil {
		terr := &TimerError{Op: "cancel", Timer: s.name, Err: err}
		metrics.RecordSchedule(string(plan.Reason), plan.NextFireAt, terr)
		return Plan{}, terr
	}

	if err := s.timers.Register(ctx, s.name, plan.NextFireAt, plan.Period); err != nil {
		terr := &TimerError{Op: "register", Timer: s.name, Err: err}
		metrics.RecordSchedule(string(plan.Reason), plan.NextFireAt, terr)
		return Plan{}, terr
	}

	metrics.RecordSchedule(string(plan.Reason), plan.NextFireAt, nil)

	log.Info().
		Str("timer", s.name).
		Str("reason", string(plan.Reason)).
		Dur("delay", plan.Delay).
		Dur("period", plan.Period).
		Time("next_fire_at", plan.NextFireAt).
		Msg("Sync scheduled")

	return plan, nil
}

// Unschedule removes the sync timer. It succeeds when nothing is scheduled.
func (s *SyncScheduler) Unschedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.timers.Cancel(ctx, s.name); err != nil {
		return &TimerError{Op: "cancel", Timer: s.name, Err: err}
	}

	metrics.RecordUnschedule()
	log.Info().Str("timer", s.name).Msg("Sync unscheduled")

	return nil
}
