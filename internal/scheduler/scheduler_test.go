package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/config"
	"github.com/watzon/worktime/internal/database"
	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/synchistory"
	"github.com/watzon/worktime/internal/timer"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// recordingTimers is an in-memory timer.Service that records every call.
type recordingTimers struct {
	mu           sync.Mutex
	active       map[string]timer.Pending
	calls        []string
	failCancel   error
	failRegister error
}

func newRecordingTimers() *recordingTimers {
	return &recordingTimers{active: make(map[string]timer.Pending)}
}

func (r *recordingTimers) Register(_ context.Context, name string, nextFireAt time.Time, period time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, "register")
	if r.failRegister != nil {
		return r.failRegister
	}
	r.active[name] = timer.Pending{Name: name, NextFireAt: nextFireAt, Period: period}
	return nil
}

func (r *recordingTimers) Cancel(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, "cancel")
	if r.failCancel != nil {
		return r.failCancel
	}
	delete(r.active, name)
	return nil
}

func (r *recordingTimers) pending(name string) (timer.Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[name]
	return p, ok
}

func (r *recordingTimers) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

type fakeHistory struct {
	last *synchistory.SyncHistory
	err  error
}

func (f *fakeHistory) Latest(context.Context) (*synchistory.SyncHistory, error) {
	return f.last, f.err
}

func newTestScheduler(history HistoryReader) (*SyncScheduler, *recordingTimers, *clock.Fixed) {
	timers := newRecordingTimers()
	clk := clock.NewFixed(epoch)
	return NewSyncScheduler(timers, history, &Options{Clock: clk}), timers, clk
}

func TestComputePlan(t *testing.T) {
	interval := 24 * time.Hour

	tests := []struct {
		name   string
		last   *synchistory.SyncHistory
		delay  time.Duration
		reason Reason
	}{
		{"never synced", nil, Warmup, ReasonNeverSynced},
		{"synced two hours ago", &synchistory.SyncHistory{StartedAt: epoch.Add(-2 * time.Hour)}, 22 * time.Hour, ReasonResume},
		{"synced just now", &synchistory.SyncHistory{StartedAt: epoch}, interval, ReasonResume},
		{"exactly one interval ago", &synchistory.SyncHistory{StartedAt: epoch.Add(-interval)}, Warmup, ReasonOverdue},
		{"two days ago", &synchistory.SyncHistory{StartedAt: epoch.Add(-48 * time.Hour)}, Warmup, ReasonOverdue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := ComputePlan(tt.last, interval, epoch)
			assert.Equal(t, tt.delay, plan.Delay)
			assert.Equal(t, tt.reason, plan.Reason)
			assert.Equal(t, epoch.Add(tt.delay), plan.NextFireAt)
			assert.Equal(t, interval, plan.Period)
		})
	}
}

func TestSchedule_NeverSynced(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})

	plan, err := s.Schedule(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(5*time.Minute), plan.NextFireAt)

	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(5*time.Minute), p.NextFireAt)
	assert.Equal(t, 24*time.Hour, p.Period)
}

func TestSchedule_Overdue(t *testing.T) {
	history := &fakeHistory{last: &synchistory.SyncHistory{StartedAt: epoch.Add(-30 * time.Hour)}}
	s, timers, _ := newTestScheduler(history)

	_, err := s.Schedule(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(Warmup), p.NextFireAt)
}

func TestSchedule_Resume(t *testing.T) {
	history := &fakeHistory{last: &synchistory.SyncHistory{StartedAt: epoch.Add(-4 * time.Hour)}}
	s, timers, _ := newTestScheduler(history)

	_, err := s.Schedule(context.Background(), 6*time.Hour)
	require.NoError(t, err)

	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Hour), p.NextFireAt)
	assert.Equal(t, 6*time.Hour, p.Period)
}

func TestSchedule_CancelsBeforeRegister(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})

	_, err := s.Schedule(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel", "register"}, timers.calls)
}

func TestSchedule_Idempotent(t *testing.T) {
	s, timers, clk := newTestScheduler(&fakeHistory{})
	ctx := context.Background()

	_, err := s.Schedule(ctx, time.Hour)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = s.Schedule(ctx, 2*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, timers.count())
	p, _ := timers.pending(TimerName)
	assert.Equal(t, 2*time.Hour, p.Period)
	assert.Equal(t, epoch.Add(time.Minute+Warmup), p.NextFireAt)
}

func TestSchedule_Concurrent(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Schedule(ctx, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, timers.count())

	// Every register is directly preceded by its cancel.
	require.Len(t, timers.calls, 40)
	for i := 0; i < len(timers.calls); i += 2 {
		assert.Equal(t, "cancel", timers.calls[i])
		assert.Equal(t, "register", timers.calls[i+1])
	}
}

func TestSchedule_RegisterFailure(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})
	timers.failRegister = timer.ErrUnavailable

	_, err := s.Schedule(context.Background(), time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimerRegistration)
	assert.ErrorIs(t, err, timer.ErrUnavailable)

	var terr *TimerError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "register", terr.Op)
	assert.Equal(t, TimerName, terr.Timer)

	// No retry.
	assert.Equal(t, []string{"cancel", "register"}, timers.calls)
	assert.Equal(t, 0, timers.count())
}

func TestSchedule_CancelFailure(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})
	timers.failCancel = errors.New("boom")

	_, err := s.Schedule(context.Background(), time.Hour)
	assert.ErrorIs(t, err, ErrTimerRegistration)
	assert.Equal(t, []string{"cancel"}, timers.calls)
}

func TestSchedule_HistoryUnavailable(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{err: errors.New("disk I/O error")})

	plan, err := s.Schedule(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReasonNeverSynced, plan.Reason)

	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(Warmup), p.NextFireAt)
}

func TestSchedule_InvalidInterval(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})

	_, err := s.Schedule(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	assert.Empty(t, timers.calls)
}

func TestUnschedule(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})
	ctx := context.Background()

	require.NoError(t, s.Unschedule(ctx))
	assert.Equal(t, 0, timers.count())

	_, err := s.Schedule(ctx, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Unschedule(ctx))
	require.NoError(t, s.Unschedule(ctx))
	assert.Equal(t, 0, timers.count())
}

func TestRecover(t *testing.T) {
	s, timers, _ := newTestScheduler(&fakeHistory{})
	ctx := context.Background()

	plan, err := s.Recover(ctx, RecoveryConfig{Enabled: true, Interval: time.Hour})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 1, timers.count())

	plan, err = s.Recover(ctx, RecoveryConfig{Enabled: false, Interval: time.Hour})
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Equal(t, 0, timers.count())
}

func TestSchedule_WithTimerOptions(t *testing.T) {
	timers := newRecordingTimers()
	s := NewSyncScheduler(timers, &fakeHistory{}, &Options{TimerName: "custom", Clock: clock.NewFixed(epoch)})

	_, err := s.Schedule(context.Background(), time.Hour)
	require.NoError(t, err)

	_, ok := timers.pending("custom")
	assert.True(t, ok)
	assert.Equal(t, "custom", s.TimerName())
}

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRunner_RecordsAndReschedules(t *testing.T) {
	db := testDB(t)
	history := synchistory.NewStore(db)
	timers := newRecordingTimers()
	clk := clock.NewFixed(epoch)
	s := NewSyncScheduler(timers, history, &Options{Clock: clk})

	calls := 0
	runner := NewRunner(s, history, nil, func(ctx context.Context) error {
		calls++
		clk.Advance(time.Second)
		return nil
	}, RunnerConfig{
		Interval: func() time.Duration { return 6 * time.Hour },
		Clock:    clk,
	})

	h, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, synchistory.StatusCompleted, h.Status)

	latest, err := history.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, h.ID, latest.ID)

	// Rescheduled from the attempt that just started.
	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(6*time.Hour), p.NextFireAt)
}

func TestRunner_RecordsFailure(t *testing.T) {
	db := testDB(t)
	history := synchistory.NewStore(db)
	timers := newRecordingTimers()
	clk := clock.NewFixed(epoch)
	s := NewSyncScheduler(timers, history, &Options{Clock: clk})

	syncErr := errors.New("remote unreachable")
	runner := NewRunner(s, history, nil, func(ctx context.Context) error {
		return syncErr
	}, RunnerConfig{
		Interval: func() time.Duration { return time.Hour },
		Clock:    clk,
	})

	h, err := runner.Run(context.Background())
	require.ErrorIs(t, err, syncErr)
	require.NotNil(t, h)
	assert.Equal(t, synchistory.StatusFailed, h.Status)
	assert.Equal(t, "remote unreachable", h.Error)

	assert.Equal(t, 1, timers.count())
}

func TestRunner_SkipsWhenRunning(t *testing.T) {
	db := testDB(t)
	history := synchistory.NewStore(db)
	s := NewSyncScheduler(newRecordingTimers(), history, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	runner := NewRunner(s, history, nil, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, RunnerConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	<-started
	_, err := runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunner_PrunesHistory(t *testing.T) {
	db := testDB(t)
	history := synchistory.NewStore(db)
	clk := clock.NewFixed(epoch)
	s := NewSyncScheduler(newRecordingTimers(), history, &Options{Clock: clk})

	runner := NewRunner(s, history, nil, func(ctx context.Context) error {
		clk.Advance(time.Minute)
		return nil
	}, RunnerConfig{Retention: 2, Clock: clk})

	for i := 0; i < 4; i++ {
		_, err := runner.Run(context.Background())
		require.NoError(t, err)
	}

	list, err := history.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunner_SyncFireEvent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	history := synchistory.NewStore(db)
	timers := newRecordingTimers()
	clk := clock.NewFixed(epoch)
	s := NewSyncScheduler(timers, history, &Options{Clock: clk})
	bus := events.NewEventBus(db, &events.EventBusConfig{Clock: clk})

	calls := 0
	runner := NewRunner(s, history, bus, func(ctx context.Context) error {
		calls++
		return nil
	}, RunnerConfig{
		Interval: func() time.Duration { return 12 * time.Hour },
		Clock:    clk,
	})
	runner.Subscribe(bus)

	var completed []events.SyncPayload
	bus.Subscribe(events.EventTypeSync, "runner", events.ActionCompleted, func(ctx context.Context, e *events.Event) error {
		var p events.SyncPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		completed = append(completed, p)
		return nil
	})

	fired := epoch
	require.NoError(t, bus.Publish(ctx, events.SyncEvent("timer", events.ActionFire, "", events.SyncPayload{
		Timer:   TimerName,
		FiredAt: &fired,
	}, nil)))

	// A request from 'sync now --in 1h' waits for its time.
	later := epoch.Add(time.Hour)
	require.NoError(t, bus.Publish(ctx, events.SyncEvent("cli", events.ActionFire, "", events.SyncPayload{}, &later)))

	n, err := bus.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)

	latest, err := history.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)

	p, ok := timers.pending(TimerName)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(12*time.Hour), p.NextFireAt)

	// The completion published by the run is delivered on the next poll.
	_, err = bus.Deliver(ctx)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, latest.ID, completed[0].HistoryID)
	assert.Equal(t, synchistory.StatusCompleted, completed[0].Status)
	assert.Equal(t, 1, calls)

	clk.Advance(time.Hour)
	_, err = bus.Deliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
