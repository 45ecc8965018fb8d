package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/worktime/internal/clock"
	"github.com/watzon/worktime/internal/database"
)

const eventColumns = `id, type, source, action, payload, metadata, created_at, deliver_at, processed_at, status`

// Store is the events table. Several processes may share it; Claim decides
// which one delivers an event.
type Store struct {
	db    database.Querier
	clock clock.Clock
}

// NewStore returns a store stamping times with clk, or the wall clock when
// clk is nil.
func NewStore(db database.Querier, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{db: db, clock: clk}
}

// Insert queues e as pending, assigning its ID and creation time.
func (s *Store) Insert(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if len(e.Payload) == 0 {
		e.Payload = []byte("null")
	}

	metadata := mustMarshal(e.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`,
		e.ID, e.Type, e.Source, e.Action,
		string(e.Payload), string(metadata),
		database.FormatTime(e.CreatedAt),
		database.FormatNullTime(e.DeliverAt),
		e.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Due returns up to limit pending events whose delivery time has passed,
// oldest due first.
func (s *Store) Due(ctx context.Context, limit int) ([]*Event, error) {
	return s.list(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = ? AND COALESCE(deliver_at, created_at) <= ?
		ORDER BY COALESCE(deliver_at, created_at), created_at
		LIMIT ?
	`, StatusPending, database.FormatTime(s.clock.Now()), limit)
}

// Queued returns every pending event of the given kind, due or not, in due
// order. An empty action matches all actions.
func (s *Store) Queued(ctx context.Context, eventType EventType, action string) ([]*Event, error) {
	return s.list(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = ? AND type = ? AND (? = '' OR action = ?)
		ORDER BY COALESCE(deliver_at, created_at), created_at
	`, StatusPending, eventType, action, action)
}

// Claim moves a pending event to processing. It reports false when another
// bus got there first.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE id = ? AND status = ?`,
		StatusProcessing, id, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claiming event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// Finish records the outcome of a claimed event.
func (s *Store) Finish(ctx context.Context, id string, failed bool) error {
	status := StatusCompleted
	if failed {
		status = StatusFailed
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, processed_at = ? WHERE id = ?`,
		status, database.FormatTime(s.clock.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("finishing event: %w", err)
	}
	return nil
}

// Purge deletes delivered events created more than retention ago. Pending
// events are kept however old they are.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := database.FormatTime(s.clock.Now().Add(-retention))

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ? AND status IN (?, ?)`,
		cutoff, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}
	return result.RowsAffected()
}

// Get returns the event with the given ID, or nil.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	list, err := s.list(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var list []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*Event, error) {
	var e Event
	var payload, metadata, createdAt string
	var deliverAt, processedAt sql.NullString

	err := row.Scan(&e.ID, &e.Type, &e.Source, &e.Action, &payload, &metadata,
		&createdAt, &deliverAt, &processedAt, &e.Status)
	if err != nil {
		return nil, fmt.Errorf("scanning event: %w", err)
	}

	e.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of event %s: %w", e.ID, err)
	}

	if e.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if e.DeliverAt, err = database.ParseNullTime(deliverAt); err != nil {
		return nil, err
	}
	if e.ProcessedAt, err = database.ParseNullTime(processedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
