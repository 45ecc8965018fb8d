package timer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
)

// Store persists armed triggers so they can be inspected from other processes.
// The store's clock also stamps activations of a CronService using it.
type Store struct {
	db    database.Querier
	clock clock.Clock
}

// NewStore returns a store using clk, or the wall clock when clk is nil.
func NewStore(db database.Querier, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// Save inserts or replaces the trigger with p.Name.
func (s *Store) Save(ctx context.Context, p *Pending) error {
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = s.clock.Now()
	}

	query := `
		INSERT INTO _worktime_timers (name, next_fire_at, period_ms, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			next_fire_at = excluded.next_fire_at,
			period_ms = excluded.period_ms,
			registered_at = excluded.registered_at
	`

	_, err := s.db.ExecContext(ctx, query,
		p.Name,
		database.FormatTime(p.NextFireAt),
		p.Period.Milliseconds(),
		database.FormatTime(p.RegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("saving timer: %w", err)
	}

	return nil
}

// UpdateNextFire records the next activation after a trigger fired.
func (s *Store) UpdateNextFire(ctx context.Context, name string, next time.Time) error {
	query := `UPDATE _worktime_timers SET next_fire_at = ? WHERE name = ?`

	if _, err := s.db.ExecContext(ctx, query, database.FormatTime(next), name); err != nil {
		return fmt.Errorf("updating timer next fire: %w", err)
	}

	return nil
}

// Get returns the trigger with the given name, or nil if none is armed.
func (s *Store) Get(ctx context.Context, name string) (*Pending, error) {
	query := `
		SELECT name, next_fire_at, period_ms, registered_at
		FROM _worktime_timers
		WHERE name = ?
	`

	var p Pending
	var nextFire, registeredAt string
	var periodMS int64

	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &nextFire, &periodMS, &registeredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting timer: %w", err)
	}

	if p.NextFireAt, err = database.ParseTime(nextFire); err != nil {
		return nil, fmt.Errorf("parsing next_fire_at: %w", err)
	}
	if p.RegisteredAt, err = database.ParseTime(registeredAt); err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	p.Period = time.Duration(periodMS) * time.Millisecond

	return &p, nil
}

// Delete removes the trigger. Deleting an unknown name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _worktime_timers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting timer: %w", err)
	}

	return nil
}

// Count returns the number of armed triggers with the given name. It is
// either 0 or 1.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _worktime_timers WHERE name = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting timers: %w", err)
	}
	return n, nil
}
