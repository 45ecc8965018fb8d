package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
)

const registrationColumns = `id, context, task_id, start_time, end_time, comment, created_at`

// Store handles database operations for time registrations. Registrations
// are never deleted.
type Store struct {
	db    database.Querier
	clock clock.Clock
}

// NewStore creates a registration store stamping CreatedAt with clk, or the
// wall clock when clk is nil.
func NewStore(db database.Querier, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// Create inserts r, assigning an ID and creation time when unset.
func (s *Store) Create(ctx context.Context, r *TimeRegistration) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}

	query := `
		INSERT INTO time_registrations (id, context, task_id, start_time, end_time, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID,
		r.Context,
		r.TaskID,
		database.FormatTime(r.StartTime),
		database.FormatNullTime(r.EndTime),
		r.Comment,
		database.FormatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting registration: %w", database.ClassifyError(err))
	}

	return nil
}

// SetEndTime ends the registration with the given ID.
func (s *Store) SetEndTime(ctx context.Context, id string, end time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE time_registrations SET end_time = ? WHERE id = ?`,
		database.FormatTime(end), id,
	)
	if err != nil {
		return fmt.Errorf("updating registration: %w", database.ClassifyError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the registration with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*TimeRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM time_registrations WHERE id = ?`

	r, err := scanRegistration(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Latest returns the registration in regCtx with the latest start time, or
// nil if the context has none.
func (s *Store) Latest(ctx context.Context, regCtx string) (*TimeRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM time_registrations
		WHERE context = ?
		ORDER BY start_time DESC, created_at DESC
		LIMIT 1
	`
	return s.queryOne(ctx, query, regCtx)
}

// Running returns the running registration in regCtx, or nil.
func (s *Store) Running(ctx context.Context, regCtx string) (*TimeRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM time_registrations
		WHERE context = ? AND end_time IS NULL
	`
	return s.queryOne(ctx, query, regCtx)
}

// ListOptions filters List.
type ListOptions struct {
	Context string
	TaskID  string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// List returns registrations ordered by start time, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*TimeRegistration, error) {
	var where []string
	var args []any

	if opts.Context != "" {
		where = append(where, "context = ?")
		args = append(args, opts.Context)
	}
	if opts.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, opts.TaskID)
	}
	if !opts.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, database.FormatTime(opts.Since))
	}
	if !opts.Until.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, database.FormatTime(opts.Until))
	}

	query := `SELECT ` + registrationColumns + ` FROM time_registrations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer rows.Close()

	var out []*TimeRegistration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (*TimeRegistration, error) {
	r, err := scanRegistration(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (*TimeRegistration, error) {
	var r TimeRegistration
	var start, created string
	var end sql.NullString

	if err := row.Scan(&r.ID, &r.Context, &r.TaskID, &start, &end, &r.Comment, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning registration: %w", err)
	}

	var err error
	if r.StartTime, err = database.ParseTime(start); err != nil {
		return nil, err
	}
	if r.EndTime, err = database.ParseNullTime(end); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = database.ParseTime(created); err != nil {
		return nil, err
	}

	return &r, nil
}
