package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/config"
	"github.com/watzon/worktime/internal/database"
	"github.com/watzon/worktime/internal/events"
	"github.com/watzon/worktime/internal/project"
	"github.com/watzon/worktime/internal/registration"
	"github.com/watzon/worktime/internal/synchistory"
	"github.com/watzon/worktime/internal/timer"
)

// app bundles the stores a command works with.
type app struct {
	cfg          *config.Config
	clock        clock.Clock
	host         string
	db           *database.DB
	bus          *events.EventBus
	projects     *project.Store
	orchestrator *registration.Orchestrator
	history      *synchistory.Store
	timers       *timer.Store
}

func openApp(cfg *config.Config) (*app, error) {
	return openAppWithClock(cfg, clock.New())
}

// openAppWithClock wires every store to clk.
func openAppWithClock(cfg *config.Config, clk clock.Clock) (*app, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	bus := events.NewEventBus(db, &events.EventBusConfig{
		Retention:       cfg.Events.Retention,
		ProcessInterval: cfg.Events.ProcessInterval,
		Clock:           clk,
	})

	host, _ := os.Hostname()

	return &app{
		cfg:      cfg,
		clock:    clk,
		host:     host,
		db:       db,
		bus:      bus,
		projects: project.NewStore(db, clk),
		orchestrator: registration.NewOrchestrator(db, &registration.Options{
			AutoCloseGap: cfg.Registration.AutoCloseGap,
			Clock:        clk,
			Bus:          bus,
		}),
		history: synchistory.NewStore(db),
		timers:  timer.NewStore(db, clk),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// resolveTask finds the task to start in the selected project. An empty name
// lets ChooseTask pick.
func (a *app) resolveTask(ctx context.Context, name string) (*project.Task, error) {
	p, err := a.projects.SelectedProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("selecting project: %w", err)
	}

	if name != "" {
		task, err := a.projects.FindTask(ctx, p.ID, name)
		if err != nil {
			return nil, fmt.Errorf("task %q in project %q: %w", name, p.Name, err)
		}
		return task, nil
	}

	tasks, err := a.projects.ListTasks(ctx, p.ID, a.cfg.Registration.HideFinishedTasks)
	if err != nil {
		return nil, err
	}
	return project.ChooseTask(tasks, a.cfg.Registration.AskIfOnlyOneTask)
}
