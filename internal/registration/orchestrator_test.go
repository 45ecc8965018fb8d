package registration

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
	"github.com/watzon/worktime/internal/project"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
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

// testTasks creates a project with the named tasks and returns their IDs.
func testTasks(t *testing.T, db *database.DB, names ...string) []string {
	t.Helper()

	store := project.NewStore(db, nil)
	p, err := store.CreateProject(context.Background(), "test", "")
	require.NoError(t, err)

	ids := make([]string, 0, len(names))
	for _, name := range names {
		task, err := store.CreateTask(context.Background(), p.ID, name)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	return ids
}

func newTestOrchestrator(t *testing.T, autoClose bool) (*Orchestrator, *clock.Fixed, []string) {
	t.Helper()

	db := testDB(t)
	tasks := testTasks(t, db, "design", "build")
	clk := clock.NewFixed(epoch)

	return NewOrchestrator(db, &Options{AutoCloseGap: autoClose, Clock: clk}), clk, tasks
}

func TestStartStop(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	status, err := o.Status(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, DefaultContext, status.Context)

	result, err := o.Start(ctx, "", tasks[0], "kickoff")
	require.NoError(t, err)
	assert.Equal(t, epoch, result.Registration.StartTime)
	assert.False(t, result.Decision.Merged)

	status, err = o.Status(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	require.NotNil(t, status.Running)
	assert.Equal(t, result.Registration.ID, status.Running.ID)
	assert.Equal(t, "kickoff", status.Running.Comment)
	assert.Equal(t, epoch, status.Running.CreatedAt, "created_at follows the injected clock")

	clk.Advance(time.Hour)
	stopped, err := o.Stop(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, stopped.EndTime)
	assert.Equal(t, epoch.Add(time.Hour), *stopped.EndTime)
	assert.Equal(t, time.Hour, stopped.Duration(clk.Now()))

	status, err = o.Status(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)
}

func TestStart_ClosesSmallGap(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	_, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = o.Stop(ctx, "work")
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	result, err := o.Start(ctx, "work", tasks[1], "")
	require.NoError(t, err)
	assert.True(t, result.Decision.Merged)
	assert.Equal(t, 30*time.Second, result.Decision.Gap)
	assert.Equal(t, epoch.Add(time.Hour), result.Registration.StartTime)
}

func TestStart_KeepsLargeGap(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	_, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = o.Stop(ctx, "work")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	result, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	assert.False(t, result.Decision.Merged)
	assert.Equal(t, clk.Now(), result.Registration.StartTime)
}

func TestStart_AutoCloseDisabled(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, false)
	ctx := context.Background()

	_, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = o.Stop(ctx, "work")
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	result, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	assert.False(t, result.Decision.Merged)
	assert.Equal(t, clk.Now(), result.Registration.StartTime)
}

func TestStart_OtherContextIgnored(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	_, err := o.Start(ctx, "a", tasks[0], "")
	require.NoError(t, err)
	clk.Advance(time.Hour)
	_, err = o.Stop(ctx, "a")
	require.NoError(t, err)

	clk.Advance(10 * time.Second)
	result, err := o.Start(ctx, "b", tasks[0], "")
	require.NoError(t, err)
	assert.False(t, result.Decision.Merged)
}

func TestStart_AlreadyRunning(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	_, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)

	_, err = o.Start(ctx, "work", tasks[1], "")
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	list, err := o.Store().List(ctx, ListOptions{Context: "work"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStart_ConcurrentSameContext(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Start(ctx, "work", tasks[0], "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRunning)
	}
	assert.Equal(t, 1, succeeded)

	list, err := o.Store().List(ctx, ListOptions{Context: "work"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStart_ConcurrentContexts(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	contexts := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, c := range contexts {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			_, err := o.Start(ctx, c, tasks[0], "")
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	for _, c := range contexts {
		status, err := o.Status(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, StateRunning, status.State)
	}
}

func TestStart_WriteFailureLeavesIdle(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	_, err := o.Start(ctx, "work", "no-such-task", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreWrite)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))

	status, err := o.Status(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, status.State)

	latest, err := o.Store().Latest(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStop_NotRunning(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, true)

	_, err := o.Stop(context.Background(), "work")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSwitch(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	first, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)

	clk.Advance(45 * time.Minute)
	result, err := o.Switch(ctx, "work", tasks[1], "")
	require.NoError(t, err)

	require.NotNil(t, result.Stopped)
	assert.Equal(t, first.Registration.ID, result.Stopped.ID)
	assert.Equal(t, clk.Now(), *result.Stopped.EndTime)
	assert.Equal(t, clk.Now(), result.Registration.StartTime)
	assert.True(t, result.Decision.Merged)
	assert.Equal(t, tasks[1], result.Registration.TaskID)

	status, err := o.Status(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, result.Registration.ID, status.Running.ID)
}

func TestSwitch_FromIdle(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, true)

	result, err := o.Switch(context.Background(), "work", tasks[0], "")
	require.NoError(t, err)
	assert.Nil(t, result.Stopped)
	assert.True(t, result.Registration.Running())
}

func TestSwitch_FailureKeepsRunning(t *testing.T) {
	o, clk, tasks := newTestOrchestrator(t, true)
	ctx := context.Background()

	first, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	_, err = o.Switch(ctx, "work", "no-such-task", "")
	assert.ErrorIs(t, err, ErrStoreWrite)

	status, err := o.Status(ctx, "work")
	require.NoError(t, err)
	require.NotNil(t, status.Running)
	assert.Equal(t, first.Registration.ID, status.Running.ID)
}

func TestOrchestrator_PublishesEvents(t *testing.T) {
	db := testDB(t)
	tasks := testTasks(t, db, "design")
	bus := events.NewEventBus(db, nil)
	o := NewOrchestrator(db, &Options{AutoCloseGap: true, Clock: clock.NewFixed(epoch), Bus: bus})
	ctx := context.Background()

	_, err := o.Start(ctx, "work", tasks[0], "")
	require.NoError(t, err)
	_, err = o.Stop(ctx, "work")
	require.NoError(t, err)

	queued, err := bus.Queued(ctx, events.EventTypeRegistration, "")
	require.NoError(t, err)
	require.Len(t, queued, 2)

	payloads := map[string]events.RegistrationPayload{}
	for _, e := range queued {
		assert.Equal(t, "work", e.Metadata.Context)
		var p events.RegistrationPayload
		require.NoError(t, e.Decode(&p))
		payloads[e.Action] = p
	}

	started := payloads[events.ActionStarted]
	assert.Equal(t, tasks[0], started.TaskID)
	assert.True(t, started.StartTime.Equal(epoch))
	assert.Nil(t, started.EndTime)

	stopped := payloads[events.ActionStopped]
	assert.Equal(t, started.RegistrationID, stopped.RegistrationID)
	require.NotNil(t, stopped.EndTime)
	assert.True(t, stopped.EndTime.Equal(epoch))
}
