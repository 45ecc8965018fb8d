// Package migrations holds the embedded worktime schema and applies it in
// version order. Every applied file is recorded with its checksum, so a
// migration edited after release is reported instead of silently skipped.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

var (
	// ErrChecksumMismatch means an applied migration no longer matches the
	// embedded file.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
	// ErrUnknownVersion means the database carries a migration this binary
	// does not know, i.e. it was written by a newer worktime.
	ErrUnknownVersion = errors.New("database schema is newer than this binary")
)

const versionTable = `
	CREATE TABLE IF NOT EXISTS _worktime_versions (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)
`

// Migration is one numbered schema file, e.g. 002_time_registrations.sql.
type Migration struct {
	Version   int        `json:"version" yaml:"version"`
	Name      string     `json:"name" yaml:"name"`
	Checksum  string     `json:"checksum" yaml:"checksum"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`

	body string
}

// Applied reports whether the migration is recorded in the database.
func (m Migration) Applied() bool {
	return m.AppliedAt != nil
}

// Available returns the embedded migrations ordered by version.
func Available() ([]Migration, error) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schema: %w", err)
	}

	list := make([]Migration, 0, len(entries))
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(sqlFS, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		list = append(list, Migration{
			Version:  version,
			Name:     name,
			Checksum: checksum(body),
			body:     string(body),
		})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list, nil
}

// Status returns every embedded migration with AppliedAt set for the ones the
// database has recorded. It fails when a recorded migration was edited or is
// unknown to this binary.
func Status(ctx context.Context, db *sql.DB) ([]Migration, error) {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return nil, fmt.Errorf("creating version table: %w", err)
	}

	list, err := Available()
	if err != nil {
		return nil, err
	}
	byVersion := make(map[int]*Migration, len(list))
	for i := range list {
		byVersion[list[i].Version] = &list[i]
	}

	rows, err := db.QueryContext(ctx, `SELECT version, name, checksum, applied_at FROM _worktime_versions`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		var name, sum, appliedAt string
		if err := rows.Scan(&version, &name, &sum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}

		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("%w: version %d (%s)", ErrUnknownVersion, version, name)
		}
		if m.Checksum != sum {
			return nil, fmt.Errorf("%w: version %d (%s)", ErrChecksumMismatch, version, name)
		}

		t, err := time.Parse(time.RFC3339Nano, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at of version %d: %w", version, err)
		}
		m.AppliedAt = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating applied migrations: %w", err)
	}

	return list, nil
}

// Run applies every migration the database has not recorded yet and returns
// the ones it applied. Each migration runs in its own transaction.
func Run(ctx context.Context, db *sql.DB) ([]Migration, error) {
	list, err := Status(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range list {
		if m.Applied() {
			continue
		}

		at := time.Now().UTC()
		if err := apply(ctx, db, m, at); err != nil {
			return applied, fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Name, err)
		}
		m.AppliedAt = &at
		applied = append(applied, m)

		log.Info().
			Int("version", m.Version).
			Str("name", m.Name).
			Str("checksum", m.Checksum[:12]).
			Msg("Applied migration")
	}

	if len(applied) > 0 {
		log.Debug().Int("applied", len(applied)).Int("total", len(list)).Msg("Schema up to date")
	}
	return applied, nil
}

// apply runs the whole file in one Exec; the driver steps through every
// statement in it.
func apply(ctx context.Context, db *sql.DB, m Migration, at time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO _worktime_versions (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// parseFileName splits "003_sync_history.sql" into 3 and "sync_history".
func parseFileName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: invalid version %q", file, prefix)
	}
	return version, name, nil
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
