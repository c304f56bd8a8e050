package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errClosed = errors.New("store is closed")

// sqlBackend holds the queries shared by the SQLite and MySQL stores. Both
// drivers accept "?" placeholders; only DDL and the verdict upsert differ.
type sqlBackend struct {
	db            *sql.DB
	mu            sync.RWMutex
	closed        bool
	upsertVerdict string
}

func (s *sqlBackend) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *sqlBackend) SaveTransition(ctx context.Context, runID string, rec TransitionRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_transitions
			(run_id, step, trigger_name, from_state, to_state, status, byte_count, frames, latency_ms, xrun_frames, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Step, rec.Trigger, rec.From, rec.To, rec.Status, rec.ByteCount,
		rec.Frames, rec.LatencyMs, rec.XrunFrames, rec.Accepted)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}
	return nil
}

func (s *sqlBackend) LoadTrace(ctx context.Context, runID string) ([]TransitionRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, trigger_name, from_state, to_state, status, byte_count, frames, latency_ms, xrun_frames, accepted
		FROM run_transitions
		WHERE run_id = ?
		ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.Step, &rec.Trigger, &rec.From, &rec.To, &rec.Status,
			&rec.ByteCount, &rec.Frames, &rec.LatencyMs, &rec.XrunFrames, &rec.Accepted); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trace: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *sqlBackend) SaveVerdict(ctx context.Context, v VerdictRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	mismatches, err := json.Marshal(v.Mismatches)
	if err != nil {
		return fmt.Errorf("failed to marshal mismatches: %w", err)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, s.upsertVerdict,
		v.RunID, v.Scenario, v.Outcome, v.UnexpectedTransition, v.PositionIncreased,
		v.PositionRetrograde, v.WorkerError, string(mismatches), v.Steps, v.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

const selectVerdict = `
	SELECT run_id, scenario, outcome, unexpected_transition, position_increased,
		position_retrograde, worker_error, mismatches, steps, created_at
	FROM run_verdicts`

func (s *sqlBackend) LoadVerdict(ctx context.Context, runID string) (VerdictRecord, error) {
	if err := s.checkOpen(); err != nil {
		return VerdictRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, selectVerdict+" WHERE run_id = ?", runID)
	v, err := scanVerdict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VerdictRecord{}, ErrNotFound
	}
	return v, err
}

func (s *sqlBackend) ListVerdicts(ctx context.Context) ([]VerdictRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectVerdict+" ORDER BY run_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []VerdictRecord{}
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verdicts: %w", err)
	}
	return out, nil
}

func (s *sqlBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerdict(row scanner) (VerdictRecord, error) {
	var (
		v          VerdictRecord
		mismatches string
	)
	err := row.Scan(&v.RunID, &v.Scenario, &v.Outcome, &v.UnexpectedTransition,
		&v.PositionIncreased, &v.PositionRetrograde, &v.WorkerError, &mismatches,
		&v.Steps, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VerdictRecord{}, err
		}
		return VerdictRecord{}, fmt.Errorf("failed to scan verdict: %w", err)
	}
	if mismatches != "" {
		if err := json.Unmarshal([]byte(mismatches), &v.Mismatches); err != nil {
			return VerdictRecord{}, fmt.Errorf("failed to unmarshal mismatches: %w", err)
		}
	}
	return v, nil
}
