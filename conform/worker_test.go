package conform

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// logicFunc adapts a function to Logic.
type logicFunc func(ctx context.Context) (Outcome, error)

func (f logicFunc) Cycle(ctx context.Context) (Outcome, error) { return f(ctx) }

// TestWorker_Start verifies the loop runs until the logic stops it and that
// a worker is single-use.
func TestWorker_Start(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var cycles atomic.Int32
	w := NewWorker(logicFunc(func(context.Context) (Outcome, error) {
		if cycles.Add(1) < 5 {
			return Continue, nil
		}
		return Exit, nil
	}), WithWorkerName("counter"))

	if !w.Start(context.Background()) {
		t.Fatal("first Start() = false")
	}
	if w.Start(context.Background()) {
		t.Error("second Start() = true")
	}
	w.Join()

	if got := cycles.Load(); got != 5 {
		t.Errorf("ran %d cycles, want 5", got)
	}
	if w.Outcome() != Exit || w.HasError() || w.Error() != "" {
		t.Errorf("worker ended %s with %q", w.Outcome(), w.Error())
	}
}

// TestWorker_Error verifies an aborting logic's error is reported.
func TestWorker_Error(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("boom")
	w := NewWorker(logicFunc(func(context.Context) (Outcome, error) {
		return Abort, boom
	}))
	w.Start(context.Background())
	w.Join()

	if !errors.Is(w.Err(), boom) || w.Error() != "boom" || w.Outcome() != Abort {
		t.Errorf("worker ended %s with %v", w.Outcome(), w.Err())
	}
}

// TestWorker_Panic verifies a panicking logic, including a cursor advanced
// against its graph, ends the loop with an error instead of crashing.
func TestWorker_Panic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewCursor(branchingGraph())
	w := NewWorker(logicFunc(func(context.Context) (Outcome, error) {
		c.Advance(StateError)
		return Continue, nil
	}))
	w.Start(context.Background())
	w.Join()

	if w.Outcome() != Abort {
		t.Errorf("Outcome() = %s, want abort", w.Outcome())
	}
	msg := w.Error()
	if !strings.HasPrefix(msg, "worker panic: ") || !strings.Contains(msg, "has no child in state ERROR") {
		t.Errorf("Error() = %q", msg)
	}
}

// TestWorker_Stop verifies Stop cancels a logic blocked on its context.
func TestWorker_Stop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan struct{})
	w := NewWorker(logicFunc(func(ctx context.Context) (Outcome, error) {
		close(entered)
		<-ctx.Done()
		return Abort, ctx.Err()
	}))
	w.Start(context.Background())
	<-entered
	w.Stop()

	done := make(chan struct{})
	go func() {
		w.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Join() did not return after Stop()")
	}
	if !errors.Is(w.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", w.Err())
	}
}

// TestWorker_Join verifies Join on a worker that never started returns at
// once and that a worker without logic refuses to start.
func TestWorker_Join(t *testing.T) {
	w := NewWorker(nil)
	if w.Start(context.Background()) {
		t.Error("Start() = true without logic")
	}
	w.Join()
	w.Stop()
	if w.Outcome() != Continue || w.HasError() {
		t.Errorf("idle worker reports %s, %q", w.Outcome(), w.Error())
	}
}

// TestWorker_ConcurrentRuns verifies independent workers do not share state.
func TestWorker_ConcurrentRuns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const runs = 8
	drivers := make([]*Driver, runs)
	workers := make([]*Worker, runs)
	for i := range drivers {
		sess := newScriptedSession(
			replyAt(StateIdle, 0),
			replyAt(StateActive, int64(i+1)),
			replyAt(StateIdle, int64(i+1)),
		)
		d, err := NewDriver(NewCursor(branchingGraph()), sess.channel(nil, 4), nil, Output)
		if err != nil {
			t.Fatalf("NewDriver() error = %v", err)
		}
		drivers[i] = d
		workers[i] = NewWorker(d)
	}
	for _, w := range workers {
		w.Start(context.Background())
	}
	for i, w := range workers {
		w.Join()
		if w.Outcome() != Exit {
			t.Errorf("worker %d ended %s (%s)", i, w.Outcome(), drivers[i].Verdict().UnexpectedTransition)
		}
		if !drivers[i].Verdict().PositionIncreased {
			t.Errorf("driver %d saw no progress", i)
		}
	}
}
