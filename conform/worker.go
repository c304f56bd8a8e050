package conform

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Worker runs a Logic on its own goroutine until it returns Exit or Abort.
//
// A Worker is single-use: Start succeeds once. Join waits for the loop to
// finish; after Join returns, HasError, Error and Outcome are stable.
//
// Panics raised by the Logic (for example a cursor advanced with a state its
// graph does not allow) are recovered and reported as the worker error.
type Worker struct {
	logic   Logic
	name    string
	logger  zerolog.Logger
	metrics *PrometheusMetrics

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	outcome Outcome
	err     error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerName labels log lines from the worker.
func WithWorkerName(name string) WorkerOption {
	return func(w *Worker) { w.name = name }
}

// WithWorkerLogger sets the worker logger. Default: zerolog.Nop().
func WithWorkerLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// WithWorkerMetrics tracks the worker in the inflight gauge.
func WithWorkerMetrics(m *PrometheusMetrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a Worker for logic. Nothing runs until Start.
func NewWorker(logic Logic, opts ...WorkerOption) *Worker {
	w := &Worker{
		logic:  logic,
		name:   "worker",
		logger: zerolog.Nop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "worker").Str("worker", w.name).Logger()
	return w
}

// Start launches the loop and reports whether it did. It returns false when
// the worker has no logic or was already started.
func (w *Worker) Start(ctx context.Context) bool {
	if w.logic == nil || !w.started.CompareAndSwap(false, true) {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	counted := w.metrics.WorkerStarted()
	go w.run(runCtx, cancel, counted)
	return true
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, counted bool) {
	defer close(w.done)
	defer cancel()
	defer w.metrics.WorkerStopped(counted)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("logic panicked")
			w.setResult(Abort, fmt.Errorf("worker panic: %v", r))
		}
	}()

	w.logger.Debug().Msg("loop started")
	for {
		if err := ctx.Err(); err != nil {
			w.setResult(Abort, err)
			return
		}
		out, err := w.logic.Cycle(ctx)
		if out == Continue {
			continue
		}
		w.setResult(out, err)
		w.logger.Debug().Stringer("outcome", out).AnErr("error", err).Msg("loop finished")
		return
	}
}

func (w *Worker) setResult(out Outcome, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcome = out
	w.err = err
}

// Join blocks until the loop has finished. It returns immediately for a
// worker that was never started.
func (w *Worker) Join() {
	if !w.started.Load() {
		return
	}
	<-w.done
}

// Stop cancels the loop context. The Logic observes it on its next blocking
// call; Join still has to be called to wait for the loop.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HasError reports whether the loop ended with an error that the Logic did
// not record in its own verdict.
func (w *Worker) HasError() bool {
	return w.Err() != nil
}

// Err returns the error the loop ended with, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Error returns the loop error message, or an empty string.
func (w *Worker) Error() string {
	if err := w.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Outcome returns how the loop ended. It is Continue until the loop stops.
func (w *Worker) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}
