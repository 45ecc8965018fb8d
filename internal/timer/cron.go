package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/watzon/worktime/internal/metrics"
)

// CronService is an in-process Service backed by robfig/cron. Armed triggers
// are mirrored to a Store.
type CronService struct {
	cron    *cron.Cron
	store   *Store
	onFire  FireFunc
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entries map[string]entry
	stopped bool
}

type entry struct {
	id    cron.EntryID
	sched repeating
}

// NewCronService creates a service that calls onFire for every activation.
func NewCronService(store *Store, onFire FireFunc) *CronService {
	ctx, cancel := context.WithCancel(context.Background())

	return &CronService{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		),
		store:   store,
		onFire:  onFire,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]entry),
	}
}

// Start begins firing registered triggers.
func (s *CronService) Start() {
	s.cron.Start()
	log.Info().Msg("Timer service started")
}

// Stop halts the service, waits for running callbacks and removes the
// stored rows of its triggers, which would otherwise advertise activations
// that never come. Later registrations fail with ErrUnavailable.
func (s *CronService) Stop() {
	s.mu.Lock()
	s.stopped = true
	names := make([]string, 0, len(s.entries))
	for name, e := range s.entries {
		s.cron.Remove(e.id)
		names = append(names, name)
	}
	s.entries = make(map[string]entry)
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	for _, name := range names {
		if err := s.store.Delete(context.Background(), name); err != nil {
			log.Warn().Err(err).Str("timer", name).Msg("Failed to clear stopped timer")
		}
	}
	log.Info().Int("cleared", len(names)).Msg("Timer service stopped")
}

func (s *CronService) Register(ctx context.Context, name string, nextFireAt time.Time, period time.Duration) error {
	if name == "" || period <= 0 {
		return fmt.Errorf("%w: name=%q period=%s", ErrInvalidRegistration, name, period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrUnavailable
	}

	if e, ok := s.entries[name]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}

	sched := repeating{first: nextFireAt.UTC(), period: period}
	id := s.cron.Schedule(sched, s.job(name))

	pending := &Pending{
		Name:       name,
		NextFireAt: nextFireAt.UTC(),
		Period:     period,
	}
	if err := s.store.Save(ctx, pending); err != nil {
		s.cron.Remove(id)
		return err
	}

	s.entries[name] = entry{id: id, sched: sched}

	log.Debug().
		Str("timer", name).
		Time("next_fire_at", nextFireAt).
		Dur("period", period).
		Msg("Timer registered")

	return nil
}

func (s *CronService) Cancel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[name]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
		log.Debug().Str("timer", name).Msg("Timer cancelled")
	}

	return s.store.Delete(ctx, name)
}

// Active returns the number of in-process triggers for name.
func (s *CronService) Active(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return 1
	}
	return 0
}

// Entries returns the number of cron entries, across all names.
func (s *CronService) Entries() int {
	return len(s.cron.Entries())
}

func (s *CronService) job(name string) cron.Job {
	return cron.FuncJob(func() {
		firedAt := s.store.clock.Now()
		metrics.RecordTimerFire(name)

		log.Debug().Str("timer", name).Time("fired_at", firedAt).Msg("Timer fired")

		if s.onFire != nil {
			s.onFire(s.ctx, name, firedAt)
		}

		s.mu.Lock()
		e, ok := s.entries[name]
		s.mu.Unlock()
		if !ok {
			return
		}
		next := e.sched.Next(firedAt)
		if err := s.store.UpdateNextFire(s.ctx, name, next); err != nil {
			log.Warn().Err(err).Str("timer", name).Msg("Failed to record next timer activation")
		}
	})
}

// cronLogger routes robfig/cron logs through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Trace().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
