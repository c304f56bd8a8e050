package scenario

import (
	"slices"

	"github.com/dshills/streamcheck/conform"
)

// Scenario is one named conformance check.
//
// Exactly one of Build and Negative is set: Build declares the transition
// graph a protocol driver walks, Negative lists commands whose status codes
// a negative-case driver checks.
type Scenario struct {
	Name string

	// Build returns the graph for a stream with the given parameters.
	Build func(conform.Descriptor) *conform.Graph

	// Negative describes a rejection check.
	Negative *Negative

	// Applies reports whether the scenario makes sense for the stream.
	// Nil means it always applies.
	Applies func(conform.Descriptor) bool

	// ResetOn lists commands after which the position may return to zero.
	ResetOn []conform.CommandTag

	// ExpectProgress fails the run when the observable position never
	// grew, unless the stream is a pass-through one.
	ExpectProgress bool
}

// Negative is a command sequence whose last command must be rejected with
// Final, while every earlier command must succeed.
type Negative struct {
	Steps []conform.Command
	Final conform.Status
}

// AppliesTo reports whether s should run against desc.
func (s Scenario) AppliesTo(desc conform.Descriptor) bool {
	return s.Applies == nil || s.Applies(desc)
}

func syncOutput(d conform.Descriptor) bool {
	return !d.Direction.IsInput() && !d.Async
}

func syncStream(d conform.Descriptor) bool {
	return !d.Async
}

func asyncOutput(d conform.Descriptor) bool {
	return !d.Direction.IsInput() && d.Async
}

func inputStream(d conform.Descriptor) bool {
	return d.Direction.IsInput()
}

// Catalogue returns the built-in scenarios.
func Catalogue() []Scenario {
	return []Scenario{
		{Name: "write", Build: WriteGraph, Applies: syncOutput, ExpectProgress: true},
		{Name: "read", Build: ReadGraph, Applies: inputStream, ExpectProgress: true},
		{Name: "standby", Build: StandbyGraph},
		{Name: "pause", Build: PauseGraph, Applies: syncStream},
		{Name: "flush", Build: FlushGraph, Applies: syncStream, ResetOn: []conform.CommandTag{conform.TagFlush}},
		{Name: "drain", Build: DrainGraph, Applies: syncStream, ResetOn: []conform.CommandTag{conform.TagFlush}},
		{Name: "async-write", Build: AsyncWriteGraph, Applies: asyncOutput, ExpectProgress: true},
		{Name: "async-drain", Build: AsyncDrainGraph, Applies: asyncOutput},
		{
			Name: "negative-burst",
			Negative: &Negative{
				Steps: []conform.Command{conform.Start(), conform.Burst(-1)},
				Final: conform.StatusBadValue,
			},
		},
		{
			Name: "burst-in-standby",
			Negative: &Negative{
				Steps: []conform.Command{conform.Burst(0)},
				Final: conform.StatusInvalidOperation,
			},
		},
		{
			Name: "invalid-command",
			Negative: &Negative{
				Steps: []conform.Command{conform.RawCommand(conform.CommandTag(-1), 0)},
				Final: conform.StatusBadValue,
			},
		},
		{
			Name: "invalid-drain-mode",
			Negative: &Negative{
				Steps: []conform.Command{conform.Start(), conform.Drain(conform.DrainMode(-1))},
				Final: conform.StatusBadValue,
			},
		},
		{
			Name: "pause-in-idle",
			Negative: &Negative{
				Steps: []conform.Command{conform.Start(), conform.Pause()},
				Final: conform.StatusInvalidOperation,
			},
		},
	}
}

// Select returns the scenarios whose names are in names, in catalogue order.
// An empty names list selects everything.
func Select(all []Scenario, names []string) []Scenario {
	if len(names) == 0 {
		return all
	}
	var out []Scenario
	for _, s := range all {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out
}
