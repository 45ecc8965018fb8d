package registration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/metrics"
)

// Orchestrator starts and stops registrations. Operations on one context are
// serialized by a per-context lock and run in a single transaction, so a
// context has at most one running registration.
type Orchestrator struct {
	db        *database.DB
	store     *Store
	clock     clock.Clock
	bus       *events.EventBus
	autoClose bool
	host      string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options holds optional Orchestrator settings.
type Options struct {
	// AutoCloseGap enables gluing a new registration to the previous one.
	AutoCloseGap bool
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Bus receives registration events when set.
	Bus *events.EventBus
}

// NewOrchestrator creates an orchestrator backed by db.
func NewOrchestrator(db *database.DB, opts *Options) *Orchestrator {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	host, _ := os.Hostname()

	return &Orchestrator{
		db:        db,
		store:     NewStore(db, opts.Clock),
		clock:     opts.Clock,
		bus:       opts.Bus,
		autoClose: opts.AutoCloseGap,
		host:      host,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Store returns the underlying registration store.
func (o *Orchestrator) Store() *Store {
	return o.store
}

func (o *Orchestrator) lock(regCtx string) func() {
	o.mu.Lock()
	l, ok := o.locks[regCtx]
	if !ok {
		l = &sync.Mutex{}
		o.locks[regCtx] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start begins a registration on taskID in regCtx. It fails with
// ErrAlreadyRunning if regCtx has a running registration, and with
// ErrStoreWrite if the registration cannot be saved; regCtx stays idle in
// both cases.
func (o *Orchestrator) Start(ctx context.Context, regCtx, taskID, comment string) (*StartResult, error) {
	regCtx = normalizeContext(regCtx)

	unlock := o.lock(regCtx)
	defer unlock()

	var result *StartResult
	err := o.db.Transaction(ctx, func(tx *database.Tx) error {
		store := NewStore(tx, o.clock)

		running, err := store.Running(ctx, regCtx)
		if err != nil {
			return fmt.Errorf("reading running registration: %w", err)
		}
		if running != nil {
			return fmt.Errorf("context %q: %w", regCtx, ErrAlreadyRunning)
		}

		result, err = o.start(ctx, store, regCtx, taskID, comment)
		return err
	})
	if err != nil {
		return nil, o.classify(err)
	}

	o.started(ctx, result)
	return result, nil
}

// Stop ends the running registration in regCtx at the current time.
func (o *Orchestrator) Stop(ctx context.Context, regCtx string) (*TimeRegistration, error) {
	regCtx = normalizeContext(regCtx)

	unlock := o.lock(regCtx)
	defer unlock()

	var stopped *TimeRegistration
	err := o.db.Transaction(ctx, func(tx *database.Tx) error {
		store := NewStore(tx, o.clock)

		running, err := store.Running(ctx, regCtx)
		if err != nil {
			return fmt.Errorf("reading running registration: %w", err)
		}
		if running == nil {
			return fmt.Errorf("context %q: %w", regCtx, ErrNotRunning)
		}

		stopped, err = o.stop(ctx, store, running)
		return err
	})
	if err != nil {
		return nil, o.classify(err)
	}

	o.stopped(ctx, stopped)
	return stopped, nil
}

// Switch stops the running registration in regCtx, if any, and starts one on
// taskID. Both happen in one transaction: on failure nothing changes.
func (o *Orchestrator) Switch(ctx context.Context, regCtx, taskID, comment string) (*StartResult, error) {
	regCtx = normalizeContext(regCtx)

	unlock := o.lock(regCtx)
	defer unlock()

	var result *StartResult
	var stopped *TimeRegistration
	err := o.db.Transaction(ctx, func(tx *database.Tx) error {
		store := NewStore(tx, o.clock)

		running, err := store.Running(ctx, regCtx)
		if err != nil {
			return fmt.Errorf("reading running registration: %w", err)
		}
		if running != nil {
			if stopped, err = o.stop(ctx, store, running); err != nil {
				return err
			}
		}

		result, err = o.start(ctx, store, regCtx, taskID, comment)
		return err
	})
	if err != nil {
		return nil, o.classify(err)
	}

	result.Stopped = stopped
	if stopped != nil {
		o.stopped(ctx, stopped)
	}
	o.started(ctx, result)
	return result, nil
}

// Status returns the state of regCtx.
func (o *Orchestrator) Status(ctx context.Context, regCtx string) (*Status, error) {
	regCtx = normalizeContext(regCtx)

	running, err := o.store.Running(ctx, regCtx)
	if err != nil {
		return nil, fmt.Errorf("reading running registration: %w", err)
	}

	status := &Status{Context: regCtx, State: StateIdle, Running: running}
	if running != nil {
		status.State = StateRunning
	}
	return status, nil
}

func (o *Orchestrator) start(ctx context.Context, store *Store, regCtx, taskID, comment string) (*StartResult, error) {
	prior, err := store.Latest(ctx, regCtx)
	if err != nil {
		return nil, fmt.Errorf("reading latest registration: %w", err)
	}

	decision := DecideStartTime(o.clock.Now(), prior, GapThreshold, o.autoClose)

	r := &TimeRegistration{
		Context:   regCtx,
		TaskID:    taskID,
		StartTime: decision.EffectiveStart,
		Comment:   comment,
	}
	if err := store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	return &StartResult{Registration: r, Decision: decision}, nil
}

func (o *Orchestrator) stop(ctx context.Context, store *Store, running *TimeRegistration) (*TimeRegistration, error) {
	end := o.clock.Now()
	if end.Before(running.StartTime) {
		end = running.StartTime
	}

	if err := store.SetEndTime(ctx, running.ID, end); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	stopped := *running
	stopped.EndTime = &end
	return &stopped, nil
}

// classify maps a failed transaction to the package's errors. A lost race on
// the running index, e.g. with another process, is reported as
// ErrAlreadyRunning. Anything else that aborted the transaction is
// ErrStoreWrite.
func (o *Orchestrator) classify(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		return err
	case errors.Is(err, ErrStoreWrite):
		if database.IsUniqueError(err) {
			return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
		}
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreWrite, err)
}

func (o *Orchestrator) started(ctx context.Context, result *StartResult) {
	r := result.Registration
	d := result.Decision

	metrics.RecordRegistrationStarted(r.Context, d.Merged, d.Gap)

	log.Info().
		Str("context", r.Context).
		Str("registration_id", r.ID).
		Str("task_id", r.TaskID).
		Time("start", r.StartTime).
		Bool("gap_closed", d.Merged).
		Dur("gap", d.Gap).
		Msg("Registration started")

	o.publish(ctx, events.ActionStarted, r, events.RegistrationPayload{
		RegistrationID: r.ID,
		TaskID:         r.TaskID,
		StartTime:      r.StartTime,
		GapClosed:      d.Merged,
		Gap:            d.Gap.String(),
	})
}

func (o *Orchestrator) stopped(ctx context.Context, r *TimeRegistration) {
	metrics.RecordRegistrationStopped(r.Context)

	log.Info().
		Str("context", r.Context).
		Str("registration_id", r.ID).
		Dur("duration", r.Duration(o.clock.Now())).
		Msg("Registration stopped")

	o.publish(ctx, events.ActionStopped, r, events.RegistrationPayload{
		RegistrationID: r.ID,
		TaskID:         r.TaskID,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
	})
}

func (o *Orchestrator) publish(ctx context.Context, action string, r *TimeRegistration, payload events.RegistrationPayload) {
	if o.bus == nil {
		return
	}

	event := events.RegistrationEvent(action, r.Context, o.host, payload)
	if err := o.bus.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to publish registration event")
	}
}

func normalizeContext(regCtx string) string {
	if regCtx == "" {
		return DefaultContext
	}
	return regCtx
}

