package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/streamcheck/conform"
)

const writeThenStandby = `
name: write-then-standby
applies: {direction: output, async: false}
reset_on: [flush]
nodes:
  - id: open
    state: STANDBY
    command: start
    next: [idle]
  - id: active
    state: ACTIVE
    command: pause
    next: [paused]
  - id: idle
    state: IDLE
    command: burst
    auto: true
    next: [active]
  - id: paused
    state: PAUSED
    command: standby
    next: [standby]
  - id: standby
    state: STANDBY
`

// TestLoadGraph verifies a YAML graph walks the same way as one built in
// code, whatever the order its nodes are listed in.
func TestLoadGraph(t *testing.T) {
	g, err := LoadGraph(strings.NewReader(writeThenStandby))
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	if g.Len() != 5 {
		t.Errorf("Len() = %d, want 5", g.Len())
	}

	c := conform.NewCursor(g)
	walk := []struct {
		state   conform.State
		trigger conform.Trigger
	}{
		{conform.StateStandby, conform.Start()},
		{conform.StateIdle, conform.AutoBurst()},
		{conform.StateActive, conform.Pause()},
		{conform.StatePaused, conform.Standby()},
	}
	for _, step := range walk {
		if c.CurrentState() != step.state || c.NextTrigger() != step.trigger {
			t.Fatalf("at %s --%s-->, want %s --%s-->", c.CurrentState(), c.NextTrigger(), step.state, step.trigger)
		}
		c.Advance(c.ExpectedStates()[0])
	}
	if !c.Done() || c.CurrentState() != conform.StateStandby {
		t.Errorf("walk ended in %s, done %v", c.CurrentState(), c.Done())
	}
}

// TestLoadGraph_Events verifies event triggers and an explicit start node.
func TestLoadGraph_Events(t *testing.T) {
	src := `
start: idle
nodes:
  - id: done
    state: ACTIVE
  - id: transferring
    state: TRANSFERRING
    event: transferReady
    next: [done]
  - id: idle
    state: IDLE
    command: burst
    value: 64
    next: [transferring, done]
`
	g, err := LoadGraph(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	c := conform.NewCursor(g)
	if c.NextTrigger() != conform.Trigger(conform.Burst(64)) {
		t.Fatalf("start trigger = %s", c.NextTrigger())
	}
	if diff := cmp.Diff([]conform.State{conform.StateTransferring, conform.StateActive}, c.ExpectedStates()); diff != "" {
		t.Errorf("ExpectedStates() mismatch (-want +got):\n%s", diff)
	}
	c.Advance(conform.StateTransferring)
	if c.NextTrigger() != conform.Trigger(conform.EventTransferReady) {
		t.Errorf("trigger = %s, want transferReady", c.NextTrigger())
	}
}

// TestLoadGraph_Errors verifies malformed graph files are rejected.
func TestLoadGraph_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"not yaml", "nodes: [", "failed to parse YAML"},
		{"unknown field", "nodes:\n  - id: a\n    state: IDLE\n    colour: red\n", "colour"},
		{"no nodes", "name: empty\n", "graph has no nodes"},
		{"missing id", "nodes:\n  - state: IDLE\n", "node without id"},
		{"duplicate id", "nodes:\n  - {id: a, state: IDLE}\n  - {id: a, state: ACTIVE}\n", `duplicate node id "a"`},
		{"unknown child", "nodes:\n  - {id: a, state: IDLE, command: start, next: [b]}\n", `unknown node "b"`},
		{"cycle", "nodes:\n  - {id: a, state: IDLE, command: start, next: [b]}\n  - {id: b, state: ACTIVE, command: pause, next: [a]}\n", "cycle"},
		{"bad state", "nodes:\n  - {id: a, state: ASLEEP}\n", `node "a"`},
		{"no trigger", "nodes:\n  - {id: a, state: IDLE, next: [b]}\n  - {id: b, state: ACTIVE}\n", "needs a command or an event"},
		{"command and event", "nodes:\n  - {id: a, state: IDLE, command: burst, event: drainReady, next: [b]}\n  - {id: b, state: ACTIVE}\n", "exclusive"},
		{"unknown command", "nodes:\n  - {id: a, state: IDLE, command: rewind, next: [b]}\n  - {id: b, state: ACTIVE}\n", `unknown command "rewind"`},
		{"unknown event", "nodes:\n  - {id: a, state: IDLE, event: ready, next: [b]}\n  - {id: b, state: ACTIVE}\n", `unknown event "ready"`},
		{"auto on start", "nodes:\n  - {id: a, state: IDLE, command: start, auto: true, next: [b]}\n  - {id: b, state: ACTIVE}\n", "auto sizing only applies to burst"},
		{"unknown start", "start: z\nnodes:\n  - {id: a, state: IDLE}\n", `unknown start node "z"`},
		{"start is a child", "start: b\nnodes:\n  - {id: a, state: IDLE, command: start, next: [b]}\n  - {id: b, state: ACTIVE}\n", "is a child"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadGraph(strings.NewReader(tt.src))
			if err == nil {
				t.Fatal("LoadGraph() succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	_, err := LoadGraph(strings.NewReader("start: b\nnodes:\n  - {id: a, state: IDLE, command: start, next: [b]}\n  - {id: b, state: ACTIVE}\n"))
	if !errors.Is(err, conform.ErrInvalidGraph) {
		t.Errorf("structural error %v does not wrap ErrInvalidGraph", err)
	}
}

// TestLoadScenario verifies file scenarios carry their name, reset tags
// and stream filter.
func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte(writeThenStandby), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error = %v", err)
	}
	if sc.Name != "write-then-standby" {
		t.Errorf("Name = %q", sc.Name)
	}
	if diff := cmp.Diff([]conform.CommandTag{conform.TagFlush}, sc.ResetOn); diff != "" {
		t.Errorf("ResetOn mismatch (-want +got):\n%s", diff)
	}
	if !sc.AppliesTo(testDescriptors["output"]) || sc.AppliesTo(testDescriptors["input"]) || sc.AppliesTo(testDescriptors["async output"]) {
		t.Error("applies filter not honoured")
	}
	if err := sc.Build(testDescriptors["output"]).Validate(); err != nil {
		t.Errorf("built graph invalid: %v", err)
	}

	all, err := LoadScenarios([]string{path})
	if err != nil {
		t.Fatalf("LoadScenarios() error = %v", err)
	}
	if len(all) != len(Catalogue())+1 || all[len(all)-1].Name != sc.Name {
		t.Errorf("LoadScenarios() did not append the file scenario")
	}

	t.Run("errors", func(t *testing.T) {
		unnamed := filepath.Join(dir, "unnamed.yaml")
		_ = os.WriteFile(unnamed, []byte("nodes:\n  - {id: a, state: IDLE}\n"), 0o644)
		badReset := filepath.Join(dir, "reset.yaml")
		_ = os.WriteFile(badReset, []byte("name: r\nreset_on: [rewind]\nnodes:\n  - {id: a, state: IDLE}\n"), 0o644)

		for _, p := range []string{filepath.Join(dir, "missing.yaml"), unnamed, badReset} {
			if _, err := LoadScenario(p); err == nil {
				t.Errorf("LoadScenario(%s) succeeded", filepath.Base(p))
			}
		}
		if _, err := LoadScenarios([]string{path, unnamed}); err == nil {
			t.Error("LoadScenarios() ignored a bad file")
		}
	})
}
