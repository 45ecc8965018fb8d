package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/scheduler"
	"github.com/watzon/worktime/internal/synchistory"
	"github.com/watzon/worktime/internal/timer"
)

var (
	historyLimit int
	syncNowIn    time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and trigger background synchronization",
	Long: `Inspect and trigger background synchronization.

The sync timer is armed by 'worktime daemon'. These commands read its state
from the database and can ask a running daemon to sync immediately.

Examples:
  worktime sync status
  worktime sync history -n 5
  worktime sync now`,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the armed sync timer and the last attempt",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync attempts",
	Args:  cobra.NoArgs,
	RunE:  runSyncHistory,
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Ask the daemon to sync now or after a delay",
	Long: `Queue a sync request for the daemon. With --in the request is held
back until the delay has passed; the daemon picks it up on its next poll
after that.

Examples:
  worktime sync now
  worktime sync now --in 10m`,
	Args: cobra.NoArgs,
	RunE: runSyncNow,
}

func init() {
	syncHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of attempts")
	syncNowCmd.Flags().DurationVar(&syncNowIn, "in", 0, "delay before the sync runs, e.g. 10m")

	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	syncCmd.AddCommand(syncNowCmd)

	rootCmd.AddCommand(syncCmd)
}

// syncStatus is the output of 'sync status'.
type syncStatus struct {
	Enabled  bool                     `json:"enabled" yaml:"enabled"`
	Interval string                   `json:"interval" yaml:"interval"`
	Daemon   bool                     `json:"daemon" yaml:"daemon"`
	Timer    *timer.Pending           `json:"timer,omitempty" yaml:"timer,omitempty"`
	Requests []time.Time              `json:"requests,omitempty" yaml:"requests,omitempty"`
	Last     *synchistory.SyncHistory `json:"last,omitempty" yaml:"last,omitempty"`
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	running, err := daemonRunning(a.cfg.Database.Path)
	if err != nil {
		return err
	}

	// The row outlives a daemon that was killed; only trust it while the
	// daemon holds its lock.
	var pending *timer.Pending
	if running {
		if pending, err = a.timers.Get(ctx, scheduler.TimerName); err != nil {
			return err
		}
	}

	last, err := a.history.Latest(ctx)
	if err != nil {
		return err
	}

	queued, err := a.bus.Queued(ctx, events.EventTypeSync, events.ActionFire)
	if err != nil {
		return err
	}
	requests := make([]time.Time, 0, len(queued))
	for _, e := range queued {
		requests = append(requests, e.DueAt())
	}

	status := syncStatus{
		Enabled:  a.cfg.Sync.Enabled,
		Interval: a.cfg.Sync.Interval.String(),
		Daemon:   running,
		Timer:    pending,
		Requests: requests,
		Last:     last,
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, status); ok {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sync enabled:  %t\n", status.Enabled)
	fmt.Fprintf(out, "Interval:      %s\n", status.Interval)
	switch {
	case !running:
		fmt.Fprintln(out, "Next sync:     not scheduled (daemon not running)")
	case pending != nil:
		fmt.Fprintf(out, "Next sync:     %s\n", formatTime(pending.NextFireAt))
	default:
		fmt.Fprintln(out, "Next sync:     not scheduled")
	}
	for _, at := range requests {
		fmt.Fprintf(out, "Requested:     %s\n", formatTime(at))
	}
	if last != nil {
		fmt.Fprintf(out, "Last sync:     %s (%s)\n", formatTime(last.StartedAt), last.Status)
		if last.Error != "" {
			fmt.Fprintf(out, "Last error:    %s\n", last.Error)
		}
	} else {
		fmt.Fprintln(out, "Last sync:     never")
	}
	return nil
}

func runSyncHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.history.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, list); ok {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No sync attempts.")
		return nil
	}
	for _, h := range list {
		fmt.Fprintf(out, "%s  %-9s  %8s  %s\n",
			formatTime(h.StartedAt), h.Status, h.Duration().Round(time.Millisecond), h.Error)
	}
	return nil
}

func runSyncNow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if syncNowIn < 0 {
		return fmt.Errorf("--in must not be negative, got %s", syncNowIn)
	}

	var deliverAt *time.Time
	if syncNowIn > 0 {
		at := a.clock.Now().Add(syncNowIn)
		deliverAt = &at
	}

	event := events.SyncEvent("cli", events.ActionFire, a.host, events.SyncPayload{}, deliverAt)
	if err := a.bus.Publish(cmd.Context(), event); err != nil {
		return err
	}

	if deliverAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Sync requested for %s\n", formatTime(*deliverAt))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Sync requested")
	return nil
}
