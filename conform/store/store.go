// Package store persists conformance run traces and verdicts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for conformance runs.
//
// It enables:
//   - Step-by-step transition traces recorded by the Driver
//   - Final verdicts recorded by the suite runner after the Worker joins
//   - Listing past verdicts for reports and regressions
//
// Implementations:
//   - In-memory (MemStore) for tests
//   - SQLite (SQLiteStore) for local result databases
//   - MySQL (MySQLStore) for shared lab result databases
type Store interface {
	// SaveTransition appends one Driver iteration to the trace of runID.
	SaveTransition(ctx context.Context, runID string, rec TransitionRecord) error

	// LoadTrace returns the trace of runID ordered by step.
	// Returns ErrNotFound if nothing was recorded for runID.
	LoadTrace(ctx context.Context, runID string) ([]TransitionRecord, error)

	// SaveVerdict stores the verdict of a run, replacing an earlier one with
	// the same RunID.
	SaveVerdict(ctx context.Context, v VerdictRecord) error

	// LoadVerdict returns the verdict of runID or ErrNotFound.
	LoadVerdict(ctx context.Context, runID string) (VerdictRecord, error)

	// ListVerdicts returns every stored verdict ordered by RunID.
	ListVerdicts(ctx context.Context) ([]VerdictRecord, error)

	// Close releases the backend.
	Close() error
}

// TransitionRecord is one Driver iteration: the trigger that was sent and the
// reply that came back. States are stored by name.
type TransitionRecord struct {
	Step       int
	Trigger    string
	From       string
	To         string
	Status     int32
	ByteCount  int32
	Frames     int64
	LatencyMs  int32
	XrunFrames int32

	// Accepted is false when the transition was rejected by the graph or by
	// reply validation; it is then the last record of the trace.
	Accepted bool
}

// VerdictRecord is the outcome of one scenario run.
type VerdictRecord struct {
	RunID                string
	Scenario             string
	Outcome              string
	UnexpectedTransition string
	PositionIncreased    bool
	PositionRetrograde   bool
	WorkerError          string
	Mismatches           []string
	Steps                int
	CreatedAt            time.Time
}

// Passed reports whether the run ended without any recorded failure.
func (v VerdictRecord) Passed() bool {
	return v.UnexpectedTransition == "" && v.WorkerError == "" && len(v.Mismatches) == 0
}
