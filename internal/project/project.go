// Package project stores the projects and tasks time is registered against.
package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
)

const selectedProjectKey = "selected_project"

var (
	// ErrNotFound is returned when a project or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a project or task name is already taken.
	ErrDuplicate = errors.New("name already exists")
	// ErrEmptyName is returned for a blank project or task name.
	ErrEmptyName = errors.New("name is required")
)

// Project groups tasks.
type Project struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Comment   string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Finished  bool      `json:"finished" yaml:"finished"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Task is the unit time is registered against.
type Task struct {
	ID        string    `json:"id" yaml:"id"`
	ProjectID string    `json:"project_id" yaml:"project_id"`
	Name      string    `json:"name" yaml:"name"`
	Finished  bool      `json:"finished" yaml:"finished"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Store handles database operations for projects and tasks.
type Store struct {
	db    database.Querier
	clock clock.Clock
}

// NewStore creates a project store stamping rows with clk, or the wall clock
// when clk is nil.
func NewStore(db database.Querier, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, name, comment string) (*Project, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	p := &Project{
		ID:        uuid.New().String(),
		Name:      name,
		Comment:   comment,
		CreatedAt: s.clock.Now(),
	}

	query := `INSERT INTO projects (id, name, comment, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.Comment, database.FormatTime(p.CreatedAt)); err != nil {
		if database.IsUniqueError(database.ClassifyError(err)) {
			return nil, fmt.Errorf("project %q: %w", name, ErrDuplicate)
		}
		return nil, fmt.Errorf("inserting project: %w", err)
	}

	return p, nil
}

// GetProject returns the project with the given ID.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `SELECT id, name, comment, finished, created_at FROM projects WHERE id = ?`
	return s.scanProject(s.db.QueryRowContext(ctx, query, id))
}

// GetProjectByName returns the project with the given name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	query := `SELECT id, name, comment, finished, created_at FROM projects WHERE name = ?`
	return s.scanProject(s.db.QueryRowContext(ctx, query, name))
}

// ListProjects returns projects ordered by name.
func (s *Store) ListProjects(ctx context.Context, includeFinished bool) ([]*Project, error) {
	query := `SELECT id, name, comment, finished, created_at FROM projects`
	if !includeFinished {
		query += ` WHERE finished = 0`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SelectProject remembers id as the selected project.
func (s *Store) SelectProject(ctx context.Context, id string) error {
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}

	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, selectedProjectKey, id, database.FormatTime(s.clock.Now())); err != nil {
		return fmt.Errorf("saving selected project: %w", err)
	}
	return nil
}

// SelectedProject returns the selected project. If none was selected, or it
// no longer exists, the first unfinished project by name is returned.
func (s *Store) SelectedProject(ctx context.Context) (*Project, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, selectedProjectKey).Scan(&id)
	switch {
	case err == nil:
		p, err := s.GetProject(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("reading selected project: %w", err)
	}

	projects, err := s.ListProjects(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("no projects: %w", ErrNotFound)
	}
	return projects[0], nil
}

// CreateTask inserts a new task in a project.
func (s *Store) CreateTask(ctx context.Context, projectID, name string) (*Task, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	t := &Task{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}

	query := `INSERT INTO tasks (id, project_id, name, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.ProjectID, t.Name, database.FormatTime(t.CreatedAt)); err != nil {
		cerr := database.ClassifyError(err)
		switch {
		case database.IsUniqueError(cerr):
			return nil, fmt.Errorf("task %q: %w", name, ErrDuplicate)
		case database.IsForeignKeyError(cerr):
			return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
		}
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	return t, nil
}

// GetTask returns the task with the given ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	query := `SELECT id, project_id, name, finished, created_at FROM tasks WHERE id = ?`
	return s.scanTask(s.db.QueryRowContext(ctx, query, id))
}

// FindTask returns the task named name in a project.
func (s *Store) FindTask(ctx context.Context, projectID, name string) (*Task, error) {
	query := `SELECT id, project_id, name, finished, created_at FROM tasks WHERE project_id = ? AND name = ?`
	return s.scanTask(s.db.QueryRowContext(ctx, query, projectID, name))
}

// ListTasks returns the tasks of a project ordered by name.
func (s *Store) ListTasks(ctx context.Context, projectID string, hideFinished bool) ([]*Task, error) {
	query := `SELECT id, project_id, name, finished, created_at FROM tasks WHERE project_id = ?`
	if hideFinished {
		query += ` AND finished = 0`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FinishTask marks a task as finished.
func (s *Store) FinishTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET finished = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("finishing task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanProject(row scanner) (*Project, error) {
	var p Project
	var finished int
	var createdAt string

	if err := row.Scan(&p.ID, &p.Name, &p.Comment, &finished, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	var err error
	p.Finished = finished != 0
	if p.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) scanTask(row scanner) (*Task, error) {
	var t Task
	var finished int
	var createdAt string

	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &finished, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}

	var err error
	t.Finished = finished != 0
	if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}
