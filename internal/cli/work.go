package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/project"
	"github.com/watzon/worktime/internal/registration"
)

var (
	startComment string
	logSince     string
	logLimit     int
	logAll       bool
)

var startCmd = &cobra.Command{
	Use:   "start [task]",
	Short: "Start working on a task",
	Long: `Start a registration on a task of the selected project.

Without a task name the only task of the project is used, unless
registration.ask_if_only_one_task is set. A registration started less than a
minute after the previous one ended continues where it stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running registration",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var switchCmd = &cobra.Command{
	Use:   "switch <task>",
	Short: "Stop the running registration and start another task",
	Args:  cobra.ExactArgs(1),
	RunE:  runSwitch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the registration state of the context",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List registrations",
	Long: `List registrations of the context, newest first.

Examples:
  worktime log --since 7d
  worktime log --all --limit 100`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	startCmd.Flags().StringVarP(&startComment, "comment", "m", "", "comment for the registration")
	switchCmd.Flags().StringVarP(&startComment, "comment", "m", "", "comment for the registration")
	logCmd.Flags().StringVar(&logSince, "since", "", "only registrations started within this period (e.g. 8h, 7d, 2w)")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum number of registrations")
	logCmd.Flags().BoolVar(&logAll, "all", false, "list registrations of all contexts")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	var name string
	if len(args) > 0 {
		name = args[0]
	}

	task, err := a.resolveTask(ctx, name)
	if err != nil {
		if errors.Is(err, project.ErrChoiceRequired) {
			return fmt.Errorf("%w: name one with 'worktime start <task>'", err)
		}
		return err
	}

	result, err := a.orchestrator.Start(ctx, contextName, task.ID, startComment)
	if err != nil {
		return err
	}

	return printStart(cmd, result, task.Name)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stopped, err := a.orchestrator.Stop(cmd.Context(), contextName)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, stopped); ok {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stopped after %s\n", formatDuration(stopped.Duration(a.clock.Now())))
	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	task, err := a.resolveTask(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := a.orchestrator.Switch(ctx, contextName, task.ID, startComment)
	if err != nil {
		return err
	}

	if result.Stopped != nil && outputFormat == "table" {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped after %s\n", formatDuration(result.Stopped.Duration(a.clock.Now())))
	}
	return printStart(cmd, result, task.Name)
}

func printStart(cmd *cobra.Command, result *registration.StartResult, taskName string) error {
	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, result); ok {
		return err
	}

	r := result.Registration
	fmt.Fprintf(cmd.OutOrStdout(), "Started %s in %s at %s", taskName, r.Context, formatTime(r.StartTime))
	if result.Decision.Merged {
		fmt.Fprintf(cmd.OutOrStdout(), " (closed %s gap)", result.Decision.Gap.Round(time.Second))
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	status, err := a.orchestrator.Status(ctx, contextName)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, status); ok {
		return err
	}

	out := cmd.OutOrStdout()
	if status.Running == nil {
		fmt.Fprintf(out, "%s: %s\n", status.Context, status.State)
		return nil
	}

	taskName := status.Running.TaskID
	if task, err := a.projects.GetTask(ctx, status.Running.TaskID); err == nil {
		taskName = task.Name
	}

	fmt.Fprintf(out, "%s: %s %s since %s (%s)\n",
		status.Context,
		status.State,
		taskName,
		formatTime(status.Running.StartTime),
		formatDuration(status.Running.Duration(a.clock.Now())),
	)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	opts := registration.ListOptions{Limit: logLimit}
	if !logAll {
		opts.Context = contextName
	}
	if logSince != "" {
		d, err := parseSince(logSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		opts.Since = a.clock.Now().Add(-d)
	}

	list, err := a.orchestrator.Store().List(ctx, opts)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, list); ok {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No registrations.")
		return nil
	}

	names := make(map[string]string)
	now := a.clock.Now()
	var total time.Duration
	for _, r := range list {
		name, ok := names[r.TaskID]
		if !ok {
			name = r.TaskID
			if task, err := a.projects.GetTask(ctx, r.TaskID); err == nil {
				name = task.Name
			}
			names[r.TaskID] = name
		}

		d := r.Duration(now)
		total += d
		fmt.Fprintf(out, "%-10s %-20s %s  %s  %7s  %s\n",
			r.Context, name, formatTime(r.StartTime), formatOptionalTime(r.EndTime), formatDuration(d), r.Comment)
	}
	fmt.Fprintf(out, "Total: %s\n", formatDuration(total))

	return nil
}
