package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/config"
	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/metrics"
	"github.com/watzon/worktime/internal/scheduler"
	"github.com/watzon/worktime/internal/timer"
)

const dbStatsInterval = 15 * time.Second

var daemonNoWatch bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync scheduler",
	Long: `Run the background process that keeps the sync timer armed.

On start the timer is scheduled from the last sync attempt: five minutes from
now if the last sync is older than sync.interval or there is none, otherwise
when the interval since the last sync runs out. Each sync runs sync.command
and is recorded in the sync history.

The config file is watched and the timer is rescheduled when sync settings
change.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoWatch, "no-watch", false, "do not watch the config file")

	rootCmd.AddCommand(daemonCmd)
}

// daemon holds the long-running components of 'worktime daemon'.
type daemon struct {
	app       *app
	timers    *timer.CronService
	scheduler *scheduler.SyncScheduler
	runner    *scheduler.Runner

	mu  sync.RWMutex
	cfg *config.Config
}

func newDaemon(a *app) *daemon {
	d := &daemon{app: a, cfg: a.cfg}

	d.timers = timer.NewCronService(a.timers, d.onFire)
	d.scheduler = scheduler.NewSyncScheduler(d.timers, a.history, &scheduler.Options{Clock: a.clock})
	d.runner = scheduler.NewRunner(d.scheduler, a.history, a.bus, d.sync, scheduler.RunnerConfig{
		Interval:  d.interval,
		Retention: a.cfg.Sync.HistoryRetention,
		Timeout:   a.cfg.Sync.Timeout,
		Clock:     a.clock,
	})

	d.runner.Subscribe(a.bus)
	a.bus.Subscribe(events.EventTypeRegistration, "*", "*", logRegistrationEvent)

	return d
}

func (d *daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *daemon) interval() time.Duration {
	return d.config().Sync.Interval
}

// onFire turns a timer activation into a sync.fire event so the sync runs on
// the event bus like one requested with 'worktime sync now'.
func (d *daemon) onFire(ctx context.Context, name string, firedAt time.Time) {
	event := events.SyncEvent("timer", events.ActionFire, d.app.host, events.SyncPayload{
		Timer:   name,
		FiredAt: &firedAt,
	}, nil)
	if err := d.app.bus.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("timer", name).Msg("Failed to publish sync trigger")
	}
}

// sync runs sync.command. Without a command the attempt only records history.
func (d *daemon) sync(ctx context.Context) error {
	command := d.config().Sync.Command
	if command == "" {
		log.Debug().Msg("No sync command configured")
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running sync command: %w: %s", err, truncate(string(output), 500))
	}

	log.Debug().Str("output", truncate(string(output), 500)).Msg("Sync command finished")
	return nil
}

// reload applies a changed config file. Only sync settings take effect
// without a restart.
func (d *daemon) reload(ctx context.Context, path string) {
	next, err := config.LoadFromFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Ignoring invalid config change")
		return
	}

	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	if prev.Sync.Enabled == next.Sync.Enabled && prev.Sync.Interval == next.Sync.Interval {
		log.Debug().Msg("Sync settings unchanged")
		return
	}

	log.Info().
		Dur("interval", next.Sync.Interval).
		Bool("enabled", next.Sync.Enabled).
		Msg("Sync settings changed, rescheduling")

	if _, err := d.scheduler.Recover(ctx, recoveryConfig(next)); err != nil {
		log.Error().Err(err).Msg("Failed to reschedule sync")
	}
}

func recoveryConfig(c *config.Config) scheduler.RecoveryConfig {
	return scheduler.RecoveryConfig{Enabled: c.Sync.Enabled, Interval: c.Sync.Interval}
}

// errDaemonRunning is returned when another daemon holds the database lock.
var errDaemonRunning = errors.New("another daemon is running for this database")

// lockDaemon takes the per-database daemon lock so only one process arms the
// sync timer.
func lockDaemon(dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".daemon.lock")

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", errDaemonRunning, lock.Path())
	}
	return lock, nil
}

// daemonRunning reports whether a daemon holds the lock for dbPath.
func daemonRunning(dbPath string) (bool, error) {
	lock := flock.New(dbPath + ".daemon.lock")

	locked, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probing daemon lock: %w", err)
	}
	if !locked {
		return true, nil
	}
	return false, lock.Unlock()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := lockDaemon(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	d := newDaemon(a)

	a.bus.Start(ctx)
	defer a.bus.Stop()

	d.timers.Start()
	defer d.timers.Stop()

	if _, err := d.scheduler.Recover(ctx, recoveryConfig(cfg)); err != nil {
		// The daemon keeps running: a config change or the next restart
		// retries.
		log.Error().Err(err).Msg("Failed to schedule sync")
	}

	if !daemonNoWatch {
		if path, err := config.ConfigFilePath(cfgFile); err == nil {
			watcher, err := NewConfigWatcher(path, func(p string) { d.reload(ctx, p) })
			if err != nil {
				log.Warn().Err(err).Msg("Failed to watch config file, continuing without reload")
			} else {
				watcher.Start(ctx)
				defer func() { _ = watcher.Stop() }()
				log.Info().Str("path", path).Msg("Watching config file")
			}
		}
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go reportDBStats(ctx, a)
	}

	log.Info().
		Bool("sync_enabled", cfg.Sync.Enabled).
		Dur("interval", cfg.Sync.Interval).
		Str("database", cfg.Database.Path).
		Msg("Daemon started")

	<-ctx.Done()
	return nil
}

func startMetricsServer(mc config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, metrics.Handler())

	srv := &http.Server{
		Addr:              mc.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", mc.Address).Str("path", mc.Path).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return srv
}

func reportDBStats(ctx context.Context, a *app) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		stats := a.db.Stats()
		metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// logRegistrationEvent reports registration changes made by any process
// sharing the database.
func logRegistrationEvent(ctx context.Context, event *events.Event) error {
	var p events.RegistrationPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decoding registration payload: %w", err)
	}

	l := log.Info().
		Str("context", event.Metadata.Context).
		Str("host", event.Metadata.Host).
		Str("action", event.Action).
		Str("registration_id", p.RegistrationID).
		Str("task_id", p.TaskID).
		Time("start", p.StartTime)
	if p.EndTime != nil {
		l = l.Dur("duration", p.EndTime.Sub(p.StartTime))
	}
	if p.GapClosed {
		l = l.Str("gap_closed", p.Gap)
	}
	l.Msg("Registration changed")
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
