package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/metrics"
	"github.com/watzon/worktime/internal/synchistory"
)

// SyncFunc performs one synchronization. It is supplied by the host.
type SyncFunc func(ctx context.Context) error

// RunnerConfig holds configuration for Runner.
type RunnerConfig struct {
	// Interval returns the current sync interval. It is read after every
	// attempt so interval changes take effect on the next reschedule.
	Interval func() time.Duration
	// Retention is the number of history records kept (default: 50).
	Retention int
	// Timeout bounds a single attempt (default: 10 minutes).
	Timeout time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Runner executes a sync when the timer fires, records it in the history and
// reschedules.
type Runner struct {
	scheduler *SyncScheduler
	history   *synchistory.Store
	bus       *events.EventBus
	sync      SyncFunc
	config    RunnerConfig
	running   atomic.Bool
}

// NewRunner creates a runner. bus may be nil.
func NewRunner(scheduler *SyncScheduler, history *synchistory.Store, bus *events.EventBus, fn SyncFunc, config RunnerConfig) *Runner {
	if config.Retention <= 0 {
		config.Retention = 50
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Runner{
		scheduler: scheduler,
		history:   history,
		bus:       bus,
		sync:      fn,
		config:    config,
	}
}

// Subscribe registers the runner for sync fire events on bus.
func (r *Runner) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeSync, "*", events.ActionFire, r.HandleEvent)
}

// HandleEvent runs a sync for a sync fire event.
func (r *Runner) HandleEvent(ctx context.Context, event *events.Event) error {
	var p events.SyncPayload
	if err := event.Decode(&p); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Ignoring malformed sync payload")
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("source", event.Source).
		Str("timer", p.Timer).
		Time("due_at", event.DueAt()).
		Msg("Sync requested")

	_, err := r.Run(ctx)
	return err
}

// Run performs one sync attempt and reschedules the timer afterwards. A sync
// error is recorded in the history and returned. If a sync is already running
// Run returns ErrSyncInProgress without doing anything.
func (r *Runner) Run(ctx context.Context) (*synchistory.SyncHistory, error) {
	if !r.running.CompareAndSwap(false, true) {
		log.Debug().Msg("Skipping sync, previous attempt still running")
		return nil, ErrSyncInProgress
	}
	defer r.running.Store(false)

	started := r.config.Clock.Now()
	h, err := r.history.Begin(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("recording sync start: %w", err)
	}

	syncCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	syncErr := r.sync(syncCtx)
	cancel()

	finished := r.config.Clock.Now()
	if err := r.history.Complete(ctx, h, finished, syncErr); err != nil {
		return h, fmt.Errorf("recording sync completion: %w", err)
	}
	metrics.RecordSyncAttempt(h.Status, finished.Sub(started))

	if syncErr != nil {
		log.Error().Err(syncErr).Str("history_id", h.ID).Msg("Sync failed")
	} else {
		log.Info().Str("history_id", h.ID).Dur("duration", h.Duration()).Msg("Sync completed")
	}

	if deleted, err := r.history.Prune(ctx, r.config.Retention); err != nil {
		log.Warn().Err(err).Msg("Failed to prune sync history")
	} else if deleted > 0 {
		log.Debug().Int64("deleted", deleted).Msg("Pruned sync history")
	}

	r.publishCompleted(ctx, h)

	if r.config.Interval != nil {
		if _, err := r.scheduler.Schedule(ctx, r.config.Interval()); err != nil {
			return h, fmt.Errorf("rescheduling sync: %w", err)
		}
	}

	if syncErr != nil {
		return h, fmt.Errorf("sync: %w", syncErr)
	}
	return h, nil
}

func (r *Runner) publishCompleted(ctx context.Context, h *synchistory.SyncHistory) {
	if r.bus == nil {
		return
	}

	event := events.SyncEvent("runner", events.ActionCompleted, "", events.SyncPayload{
		HistoryID: h.ID,
		Status:    h.Status,
		Error:     h.Error,
	}, nil)
	if err := r.bus.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Msg("Failed to publish sync completion")
	}
}
