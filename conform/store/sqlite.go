package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps traces and verdicts in a single-file database, which makes it the
// default result store for lab machines running the suite locally.
//
// Schema:
//   - run_transitions: one row per Driver iteration
//   - run_verdicts: one row per run (upserted)
type SQLiteStore struct {
	sqlBackend
	path string
}

// NewSQLiteStore opens (and creates if needed) the database at path.
//
// The store enables WAL mode so the suite can read verdicts while scenarios
// are still writing traces.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./results.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		sqlBackend: sqlBackend{
			db: db,
			upsertVerdict: `
				INSERT INTO run_verdicts
					(run_id, scenario, outcome, unexpected_transition, position_increased,
					 position_retrograde, worker_error, mismatches, steps, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id) DO UPDATE SET
					scenario = excluded.scenario,
					outcome = excluded.outcome,
					unexpected_transition = excluded.unexpected_transition,
					position_increased = excluded.position_increased,
					position_retrograde = excluded.position_retrograde,
					worker_error = excluded.worker_error,
					mismatches = excluded.mismatches,
					steps = excluded.steps,
					created_at = excluded.created_at`,
		},
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	transitions := `
		CREATE TABLE IF NOT EXISTS run_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			trigger_name TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			status INTEGER NOT NULL,
			byte_count INTEGER NOT NULL,
			frames INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			xrun_frames INTEGER NOT NULL,
			accepted BOOLEAN NOT NULL,
			UNIQUE(run_id, step)
		)`
	if _, err := s.db.ExecContext(ctx, transitions); err != nil {
		return fmt.Errorf("failed to create run_transitions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_transitions_run ON run_transitions(run_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_transitions_run: %w", err)
	}

	verdicts := `
		CREATE TABLE IF NOT EXISTS run_verdicts (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			outcome TEXT NOT NULL,
			unexpected_transition TEXT NOT NULL,
			position_increased BOOLEAN NOT NULL,
			position_retrograde BOOLEAN NOT NULL,
			worker_error TEXT NOT NULL,
			mismatches TEXT NOT NULL,
			steps INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, verdicts); err != nil {
		return fmt.Errorf("failed to create run_verdicts table: %w", err)
	}
	return nil
}
