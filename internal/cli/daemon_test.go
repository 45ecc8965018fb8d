package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/scheduler"
	"github.com/watzon/worktime/internal/synchistory"
)

func TestDaemon_RecoverArmsTimer(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: 6h\n")
	a := openTestApp(t, path)
	d := newDaemon(a)
	ctx := context.Background()

	plan, err := d.scheduler.Recover(ctx, recoveryConfig(a.cfg))
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, scheduler.ReasonNeverSynced, plan.Reason)

	pending, err := a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 6*time.Hour, pending.Period)
	assert.Equal(t, 1, d.timers.Active(scheduler.TimerName))
}

func TestDaemon_ReloadReschedules(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: 6h\n")
	a := openTestApp(t, path)
	d := newDaemon(a)
	ctx := context.Background()

	_, err := d.scheduler.Recover(ctx, recoveryConfig(a.cfg))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	updated := []byte(string(content[:len(content)-len("sync:\n  interval: 6h\n")]) + "sync:\n  interval: 2h\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	d.reload(ctx, path)

	pending, err := a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 2*time.Hour, pending.Period)
	assert.Equal(t, 2*time.Hour, d.interval())
	assert.Equal(t, 1, d.timers.Active(scheduler.TimerName))

	// Disabling sync removes the timer.
	disabled := []byte(string(updated) + "  enabled: false\n")
	require.NoError(t, os.WriteFile(path, disabled, 0o600))

	d.reload(ctx, path)

	pending, err = a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Equal(t, 0, d.timers.Active(scheduler.TimerName))
}

func TestDaemon_ReloadIgnoresInvalidConfig(t *testing.T) {
	path := writeConfig(t, "")
	a := openTestApp(t, path)
	d := newDaemon(a)

	require.NoError(t, os.WriteFile(path, []byte("sync:\n  interval: 1s\n"), 0o600))
	d.reload(context.Background(), path)

	assert.Equal(t, a.cfg.Sync.Interval, d.interval())
}

func TestDaemon_SyncCommand(t *testing.T) {
	path := writeConfig(t, "sync:\n  command: \"echo ok\"\n")
	a := openTestApp(t, path)
	d := newDaemon(a)

	require.NoError(t, d.sync(context.Background()))

	failing := writeConfig(t, "sync:\n  command: \"echo nope >&2; exit 3\"\n")
	d = newDaemon(openTestApp(t, failing))

	err := d.sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestDaemon_FireRunsSync(t *testing.T) {
	path := writeConfig(t, "")
	a := openTestApp(t, path)
	d := newDaemon(a)
	ctx := context.Background()

	d.onFire(ctx, scheduler.TimerName, time.Now())
	n, err := a.bus.Deliver(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	latest, err := a.history.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, synchistory.StatusCompleted, latest.Status)

	fired, err := a.bus.Queued(ctx, events.EventTypeSync, events.ActionFire)
	require.NoError(t, err)
	assert.Empty(t, fired)

	// The runner rescheduled the timer after the attempt.
	pending, err := a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, a.cfg.Sync.Interval, pending.Period)
}

func TestConfigWatcher(t *testing.T) {
	path := writeConfig(t, "")

	var calls atomic.Int32
	w, err := NewConfigWatcher(path, func(string) { calls.Add(1) }, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLockDaemon(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "worktime.db")

	lock, err := lockDaemon(dbPath)
	require.NoError(t, err)

	_, err = lockDaemon(dbPath)
	assert.ErrorIs(t, err, errDaemonRunning)

	require.NoError(t, lock.Unlock())

	lock, err = lockDaemon(dbPath)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestDaemon_StopClearsTimer(t *testing.T) {
	path := writeConfig(t, "")
	a := openTestApp(t, path)
	d := newDaemon(a)
	ctx := context.Background()

	d.timers.Start()
	_, err := d.scheduler.Recover(ctx, recoveryConfig(a.cfg))
	require.NoError(t, err)

	pending, err := a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	require.NotNil(t, pending)

	d.timers.Stop()

	pending, err = a.timers.Get(ctx, scheduler.TimerName)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestDaemonRunning(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "worktime.db")

	running, err := daemonRunning(dbPath)
	require.NoError(t, err)
	assert.False(t, running)

	lock, err := lockDaemon(dbPath)
	require.NoError(t, err)

	running, err = daemonRunning(dbPath)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, lock.Unlock())

	running, err = daemonRunning(dbPath)
	require.NoError(t, err)
	assert.False(t, running)

	// Probing must not leave the lock held.
	lock, err = lockDaemon(dbPath)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}
