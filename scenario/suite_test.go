package scenario

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/dshills/streamcheck/conform"
	"github.com/dshills/streamcheck/conform/emit"
	"github.com/dshills/streamcheck/conform/store"
	"github.com/dshills/streamcheck/sim"
)

func suiteConfig(direction string, async bool) Config {
	cfg := DefaultConfig()
	cfg.Stream.Direction = direction
	cfg.Stream.Async = async
	cfg.CommandTimeout = time.Second
	return cfg
}

func requireAllPassed(t *testing.T, results []Result, want int) {
	t.Helper()
	if len(results) != want {
		t.Errorf("ran %d scenarios, want %d", len(results), want)
	}
	for _, r := range results {
		if !r.Passed() {
			t.Errorf("%s failed: %s", r.Scenario, r.Failure())
		}
	}
}

// TestSuite_Run verifies every applicable scenario passes against the
// reference session for each stream kind.
func TestSuite_Run(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tests := []struct {
		name      string
		direction string
		async     bool
		want      int
	}{
		{"output", "output", false, 10},
		{"input", "input", false, 10},
		{"async output", "output", true, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := suiteConfig(tt.direction, tt.async)
			cfg.Parallelism = 4
			results, err := NewSuite(SimOpener(sim.Config{}), cfg).Run(context.Background())
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			requireAllPassed(t, results, tt.want)
		})
	}
}

// TestSuite_RunRecordsResults verifies verdicts, traces, events and metrics
// are written for each run.
func TestSuite_RunRecordsResults(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := suiteConfig("output", false)
	cfg.Scenarios = []string{"write", "pause-in-idle"}

	st := store.NewMemStore()
	events := emit.NewBufferedEmitter()
	registry := prometheus.NewRegistry()
	metrics := conform.NewPrometheusMetrics(registry)

	results, err := NewSuite(SimOpener(sim.Config{}), cfg,
		WithResultStore(st),
		WithSuiteEmitter(events),
		WithSuiteMetrics(metrics),
		WithRunPrefix("t"),
	).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	requireAllPassed(t, results, 2)

	ctx := context.Background()
	for _, id := range []string{"t/write", "t/pause-in-idle"} {
		v, err := st.LoadVerdict(ctx, id)
		if err != nil {
			t.Fatalf("LoadVerdict(%s) error = %v", id, err)
		}
		if !v.Passed() || v.Outcome != "exit" {
			t.Errorf("verdict %s = %+v", id, v)
		}
	}
	trace, err := st.LoadTrace(ctx, "t/write")
	if err != nil {
		t.Fatalf("LoadTrace() error = %v", err)
	}
	if len(trace) != 1+DefaultBursts || trace[0].Trigger != "start" {
		t.Errorf("trace = %+v", trace)
	}

	if n := len(events.GetHistoryWithFilter("t/write", emit.HistoryFilter{Msg: emit.MsgTransition})); n != 1+DefaultBursts {
		t.Errorf("got %d transition events, want %d", n, 1+DefaultBursts)
	}
	if n, err := testutil.GatherAndCount(registry, "streamcheck_cycles_total"); err != nil || n == 0 {
		t.Errorf("cycles_total series = %d, %v", n, err)
	}
	expected := `
# HELP streamcheck_inflight_workers Workers currently running a driver loop
# TYPE streamcheck_inflight_workers gauge
streamcheck_inflight_workers 0
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "streamcheck_inflight_workers"); err != nil {
		t.Errorf("inflight workers after the suite: %v", err)
	}
}

// TestSuite_RunSlowDrain verifies the drain scenario passes against a
// session whose output drain is still running when the scenario pauses and
// flushes it.
func TestSuite_RunSlowDrain(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := suiteConfig("output", false)
	cfg.Scenarios = []string{"drain"}
	opener := SimOpener(sim.Config{SlowDrain: true, NotifyDelay: 200 * time.Millisecond})

	results, err := NewSuite(opener, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	requireAllPassed(t, results, 1)
	if len(results) == 1 && results[0].Verdict.PositionRetrograde {
		t.Error("flush after a slow drain reported as a retrograde position")
	}
}

// TestSuite_RetrySuggested verifies a rejected configuration is retried
// with the one the session proposes, and only when enabled.
func TestSuite_RetrySuggested(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opener := SimOpener(sim.Config{MinBufferFrames: 512})
	cfg := suiteConfig("output", false)
	cfg.Scenarios = []string{"write"}

	results, err := NewSuite(opener, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	requireAllPassed(t, results, 1)
	if r := results[0]; !r.Retried || r.Descriptor.BufferFrames != 512 {
		t.Errorf("Retried = %v with %d frames, want a retry with 512", r.Retried, r.Descriptor.BufferFrames)
	}

	cfg.RetrySuggested = false
	results, err = NewSuite(opener, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var sug *sim.SuggestionError
	if r := results[0]; r.Passed() || r.Retried || !errors.As(r.Err, &sug) {
		t.Errorf("result = %+v, want the open error", r)
	}
}

// TestSuite_OpenThenSetup verifies notifications reach a receiver bound
// after the session was opened.
func TestSuite_OpenThenSetup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := suiteConfig("output", true)
	cfg.OpenOrder = OpenThenSetup
	cfg.Scenarios = []string{"async-write", "async-drain"}

	results, err := NewSuite(SimOpener(sim.Config{}), cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	requireAllPassed(t, results, 2)
}

// TestSuite_RunFailures verifies a misbehaving session fails the affected
// scenarios without failing the suite.
func TestSuite_RunFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := suiteConfig("output", false)
	cfg.Scenarios = []string{"write", "standby"}
	opener := SimOpener(sim.Config{FreezePosition: true})

	results, err := NewSuite(opener, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	byName := make(map[string]Result)
	for _, r := range results {
		byName[r.Scenario] = r
	}
	// The session reports itself as pass-through, so a frozen position is
	// acceptable.
	if !byName["write"].Passed() || !byName["standby"].Passed() {
		t.Errorf("pass-through session failed: %q %q", byName["write"].Failure(), byName["standby"].Failure())
	}

	lying := OpenerFunc(func(ctx context.Context, desc conform.Descriptor, cb conform.EventCallback) (Session, error) {
		cfg := sim.Config{Direction: desc.Direction, FrameSizeBytes: desc.FrameSizeBytes, BufferFrames: desc.BufferFrames,
			ReplyHook: func(cmd conform.Command, r *conform.Reply) {
				if cmd.Tag == conform.TagStandby {
					r.State = conform.StateIdle
				}
			}}
		st, err := sim.Open(ctx, cfg, cb)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	results, err = NewSuite(lying, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, r := range results {
		switch r.Scenario {
		case "write":
			if !r.Passed() {
				t.Errorf("write failed: %s", r.Failure())
			}
		case "standby":
			want := "unexpected transition from IDLE to IDLE caused by standby, expected one of [STANDBY]"
			if r.Passed() || r.Failure() != want {
				t.Errorf("standby failure = %q, want %q", r.Failure(), want)
			}
		}
	}

	failing := OpenerFunc(func(context.Context, conform.Descriptor, conform.EventCallback) (Session, error) {
		return nil, errors.New("device busy")
	})
	results, err = NewSuite(failing, cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, r := range results {
		if r.Passed() || r.Failure() != "device busy" {
			t.Errorf("%s failure = %q", r.Scenario, r.Failure())
		}
	}

	if _, err := NewSuite(nil, cfg).Run(context.Background()); err == nil {
		t.Error("Run() without an opener succeeded")
	}
}

// TestSuite_FailedRunsSaveVerdicts verifies runs that end before the driver
// loop finishes still leave a verdict behind.
func TestSuite_FailedRunsSaveVerdicts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	cfg := suiteConfig("output", false)
	cfg.Scenarios = []string{"write"}
	st := store.NewMemStore()

	failing := OpenerFunc(func(context.Context, conform.Descriptor, conform.EventCallback) (Session, error) {
		return nil, errors.New("device busy")
	})
	suite := NewSuite(failing, cfg, WithResultStore(st), WithRunPrefix("t"))
	if _, err := suite.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	v, err := st.LoadVerdict(ctx, "t/write")
	if err != nil {
		t.Fatalf("LoadVerdict() error = %v", err)
	}
	if v.Passed() || v.WorkerError != "device busy" {
		t.Errorf("verdict = %+v, want a failure carrying the open error", v)
	}

	res := suite.failed(ctx, Result{Scenario: "pause", RunID: "t/pause"}, errors.New("worker did not start"))
	if res.Passed() || res.Failure() != "worker did not start" {
		t.Errorf("Failure() = %q", res.Failure())
	}
	v, err = st.LoadVerdict(ctx, "t/pause")
	if err != nil {
		t.Fatalf("LoadVerdict() error = %v", err)
	}
	if v.Scenario != "pause" || v.WorkerError != "worker did not start" {
		t.Errorf("verdict = %+v", v)
	}
}
