package conform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

// TestPrometheusMetrics_Driver verifies a run is reflected in cycles,
// violations, latencies and event waits.
func TestPrometheusMetrics_Driver(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	rx := NewReceiver(WithWaitTimeout(20 * time.Millisecond))
	sess := newScriptedSession(replyAt(StateIdle, 0), replyAt(StateTransferring, 0))
	d, err := NewDriver(NewCursor(asyncGraph()), sess.channel(nil, 4), rx, Output,
		WithScenario("async-write"), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	w := NewWorker(d, WithWorkerMetrics(metrics))
	w.Start(context.Background())
	w.Join()

	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("async-write", "continue")); got != 2 {
		t.Errorf("continue cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("async-write", "abort")); got != 1 {
		t.Errorf("abort cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.violations.WithLabelValues("async-write", KindEventMismatch)); got != 1 {
		t.Errorf("event mismatches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.eventTimeouts.WithLabelValues("transferReady")); got != 1 {
		t.Errorf("event timeouts = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.replyLatency); got != 2 {
		t.Errorf("reply latency series = %d, want 2 (start, burst)", got)
	}
	if got := testutil.ToFloat64(metrics.inflight); got != 0 {
		t.Errorf("inflight workers = %v after Join, want 0", got)
	}
}

// TestPrometheusMetrics_Disable verifies nothing is recorded while disabled
// and that a nil collector is a no-op.
func TestPrometheusMetrics_Disable(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	metrics.Disable()
	metrics.RecordCycle("write", Exit)
	metrics.IncrementViolations("write", KindXrun)
	metrics.Enable()
	metrics.RecordCycle("write", Exit)

	if got := testutil.ToFloat64(metrics.cycles.WithLabelValues("write", "exit")); got != 1 {
		t.Errorf("exit cycles = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.violations); got != 0 {
		t.Errorf("violation series = %d, want 0", got)
	}

	var none *PrometheusMetrics
	none.RecordCycle("write", Exit)
	if none.WorkerStarted() {
		t.Error("nil collector counted a worker")
	}
	none.WorkerStopped(true)
	none.RecordEventWait(EventDrainReady, time.Millisecond, true)
}

// TestPrometheusMetrics_CancelledEventWait verifies a wait cut short by
// cancellation is observed but not counted as a timeout.
func TestPrometheusMetrics_CancelledEventWait(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	rx := NewReceiver(WithWaitTimeout(time.Second))
	sess := newScriptedSession(replyAt(StateIdle, 0), replyAt(StateTransferring, 0))
	d, err := NewDriver(NewCursor(asyncGraph()), sess.channel(nil, 4), rx, Output,
		WithScenario("async-write"), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if out, err := d.Cycle(context.Background()); out != Continue || err != nil {
			t.Fatalf("cycle %d = %s, %v", i+1, out, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := d.Cycle(ctx)
	if out != Abort || !errors.Is(err, context.Canceled) {
		t.Fatalf("Cycle() = %s, %v, want abort with context.Canceled", out, err)
	}
	if got := testutil.CollectAndCount(metrics.eventWait); got != 1 {
		t.Errorf("event wait series = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.eventTimeouts); got != 0 {
		t.Errorf("event timeout series = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(metrics.violations); got != 0 {
		t.Errorf("violation series = %d, want 0", got)
	}
}

// TestPrometheusMetrics_DisableWhileRunning verifies the inflight gauge
// returns to zero when recording is switched off during a run.
func TestPrometheusMetrics_DisableWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	entered := make(chan struct{})
	release := make(chan struct{})
	w := NewWorker(logicFunc(func(context.Context) (Outcome, error) {
		close(entered)
		<-release
		return Exit, nil
	}), WithWorkerMetrics(metrics))

	w.Start(context.Background())
	<-entered
	if got := testutil.ToFloat64(metrics.inflight); got != 1 {
		t.Errorf("inflight workers = %v while running, want 1", got)
	}
	metrics.Disable()
	close(release)
	w.Join()
	metrics.Enable()

	if got := testutil.ToFloat64(metrics.inflight); got != 0 {
		t.Errorf("inflight workers = %v after Join, want 0", got)
	}

	w = NewWorker(logicFunc(func(context.Context) (Outcome, error) { return Exit, nil }), WithWorkerMetrics(metrics))
	metrics.Disable()
	w.Start(context.Background())
	metrics.Enable()
	w.Join()
	if got := testutil.ToFloat64(metrics.inflight); got != 0 {
		t.Errorf("inflight workers = %v after an uncounted run, want 0", got)
	}
}
