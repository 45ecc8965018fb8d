// Package synchistory records synchronization attempts.
package synchistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/worktime/internal/database"
)

// Status values for a sync attempt.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("sync history not found")

// SyncHistory is one synchronization attempt. CompletedAt is nil while the
// attempt is still running.
type SyncHistory struct {
	ID          string     `json:"id" yaml:"id"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      string     `json:"status" yaml:"status"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration returns how long the attempt took, or zero if it is still running.
func (h *SyncHistory) Duration() time.Duration {
	if h.CompletedAt == nil {
		return 0
	}
	return h.CompletedAt.Sub(h.StartedAt)
}

// Store handles database operations for sync history.
type Store struct {
	db database.Querier
}

func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

// Begin records the start of a new attempt.
func (s *Store) Begin(ctx context.Context, startedAt time.Time) (*SyncHistory, error) {
	h := &SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: startedAt.UTC(),
		Status:    StatusRunning,
	}

	query := `INSERT INTO sync_history (id, started_at, status) VALUES (?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, h.ID, database.FormatTime(h.StartedAt), h.Status); err != nil {
		return nil, fmt.Errorf("inserting sync history: %w", err)
	}

	return h, nil
}

// Complete marks an attempt as finished. A nil syncErr marks it completed,
// otherwise failed.
func (s *Store) Complete(ctx context.Context, h *SyncHistory, completedAt time.Time, syncErr error) error {
	completedAt = completedAt.UTC()
	status := StatusCompleted
	var msg string
	if syncErr != nil {
		status = StatusFailed
		msg = syncErr.Error()
	}

	query := `
		UPDATE sync_history
		SET completed_at = ?, status = ?, error = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, database.FormatTime(completedAt), status, msg, h.ID)
	if err != nil {
		return fmt.Errorf("completing sync history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, h.ID)
	}

	h.CompletedAt = &completedAt
	h.Status = status
	h.Error = msg

	return nil
}

// Latest returns the most recent attempt by start time, or nil if there is
// none.
func (s *Store) Latest(ctx context.Context) (*SyncHistory, error) {
	query := `
		SELECT id, started_at, completed_at, status, error
		FROM sync_history
		ORDER BY started_at DESC
		LIMIT 1
	`

	h, err := scanHistory(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest sync history: %w", err)
	}

	return h, nil
}

// List returns up to limit attempts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*SyncHistory, error) {
	query := `
		SELECT id, started_at, completed_at, status, error
		FROM sync_history
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync history: %w", err)
	}
	defer rows.Close()

	var result []*SyncHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync history: %w", err)
		}
		result = append(result, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync history: %w", err)
	}

	return result, nil
}

// Prune deletes all but the newest keep attempts and returns the number of
// deleted rows.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	query := `
		DELETE FROM sync_history
		WHERE id NOT IN (
			SELECT id FROM sync_history ORDER BY started_at DESC LIMIT ?
		)
	`

	res, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning sync history: %w", err)
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (*SyncHistory, error) {
	var h SyncHistory
	var startedAt string
	var completedAt sql.NullString

	if err := row.Scan(&h.ID, &startedAt, &completedAt, &h.Status, &h.Error); err != nil {
		return nil, err
	}

	var err error
	if h.StartedAt, err = database.ParseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if h.CompletedAt, err = database.ParseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}

	return &h, nil
}
