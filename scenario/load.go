package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/streamcheck/conform"
)

// GraphFile is the YAML form of a scenario graph.
//
//	name: write-then-standby
//	applies: {direction: output, async: false}
//	reset_on: [flush]
//	nodes:
//	  - id: open
//	    state: STANDBY
//	    command: start
//	    next: [idle]
//	  - id: idle
//	    state: IDLE
//	    command: burst
//	    auto: true
//	    next: [active]
//	  - id: active
//	    state: ACTIVE
//
// Nodes may be listed in any order. A node without next is terminal. The
// start node is Start, or the first node listed.
type GraphFile struct {
	Name    string      `yaml:"name"`
	Applies *AppliesTo  `yaml:"applies,omitempty"`
	ResetOn []string    `yaml:"reset_on,omitempty"`
	Start   string      `yaml:"start,omitempty"`
	Nodes   []GraphNode `yaml:"nodes"`
}

// AppliesTo restricts a loaded scenario to matching streams. Unset fields
// match anything.
type AppliesTo struct {
	Direction string `yaml:"direction,omitempty"`
	Async     *bool  `yaml:"async,omitempty"`
}

// GraphNode is one node of a GraphFile. Command and Event are exclusive.
type GraphNode struct {
	ID      string   `yaml:"id"`
	State   string   `yaml:"state"`
	Command string   `yaml:"command,omitempty"`
	Value   int32    `yaml:"value,omitempty"`
	Auto    bool     `yaml:"auto,omitempty"`
	Event   string   `yaml:"event,omitempty"`
	Next    []string `yaml:"next,omitempty"`
}

// LoadGraph parses a YAML graph definition.
func LoadGraph(r io.Reader) (*conform.Graph, error) {
	gf, err := decodeGraphFile(r)
	if err != nil {
		return nil, err
	}
	return gf.Graph()
}

// LoadScenario reads a YAML graph file and wraps it as a Scenario.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario file: %w", err)
	}
	gf, err := decodeGraphFile(bytes.NewReader(data))
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	if gf.Name == "" {
		return Scenario{}, fmt.Errorf("%s: name is required", path)
	}
	g, err := gf.Graph()
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}

	sc := Scenario{
		Name:  gf.Name,
		Build: func(conform.Descriptor) *conform.Graph { return g },
	}
	for _, name := range gf.ResetOn {
		tag, err := parseCommandTag(name)
		if err != nil {
			return Scenario{}, fmt.Errorf("%s: reset_on: %w", path, err)
		}
		sc.ResetOn = append(sc.ResetOn, tag)
	}
	if gf.Applies != nil {
		sc.Applies = gf.Applies.match
	}
	return sc, nil
}

// LoadScenarios appends the scenarios defined in paths to the built-in
// catalogue.
func LoadScenarios(paths []string) ([]Scenario, error) {
	all := Catalogue()
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		all = append(all, sc)
	}
	return all, nil
}

func (a *AppliesTo) match(d conform.Descriptor) bool {
	if a.Direction != "" && a.Direction != d.Direction.String() {
		return false
	}
	if a.Async != nil && *a.Async != d.Async {
		return false
	}
	return true
}

func decodeGraphFile(r io.Reader) (GraphFile, error) {
	var gf GraphFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&gf); err != nil {
		return GraphFile{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(gf.Nodes) == 0 {
		return GraphFile{}, errors.New("graph has no nodes")
	}
	return gf, nil
}

// Graph builds the arena. Children are created before their parents, so a
// reference cycle is reported as an error.
func (gf GraphFile) Graph() (*conform.Graph, error) {
	byID := make(map[string]GraphNode, len(gf.Nodes))
	for _, n := range gf.Nodes {
		if n.ID == "" {
			return nil, errors.New("node without id")
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		byID[n.ID] = n
	}

	g := conform.NewGraph()
	built := make(map[string]conform.NodeID, len(gf.Nodes))
	visiting := make(map[string]bool)

	var build func(id string) (conform.NodeID, error)
	build = func(id string) (conform.NodeID, error) {
		if nid, ok := built[id]; ok {
			return nid, nil
		}
		n, ok := byID[id]
		if !ok {
			return 0, fmt.Errorf("unknown node %q", id)
		}
		if visiting[id] {
			return 0, fmt.Errorf("node %q is part of a cycle", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		state, err := conform.ParseState(n.State)
		if err != nil {
			return 0, fmt.Errorf("node %q: %w", id, err)
		}
		children := make([]conform.NodeID, 0, len(n.Next))
		for _, next := range n.Next {
			c, err := build(next)
			if err != nil {
				return 0, err
			}
			children = append(children, c)
		}

		var nid conform.NodeID
		if len(children) == 0 {
			nid = g.NewTerminalNode(state)
		} else {
			trigger, err := n.trigger()
			if err != nil {
				return 0, fmt.Errorf("node %q: %w", id, err)
			}
			nid = g.NewNode(state, trigger, children...)
		}
		built[id] = nid
		return nid, nil
	}

	for _, n := range gf.Nodes {
		if _, err := build(n.ID); err != nil {
			return nil, err
		}
	}

	start := gf.Start
	if start == "" {
		start = gf.Nodes[0].ID
	}
	sid, ok := built[start]
	if !ok {
		return nil, fmt.Errorf("unknown start node %q", start)
	}
	g.SetStart(sid)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (n GraphNode) trigger() (conform.Trigger, error) {
	switch {
	case n.Command != "" && n.Event != "":
		return nil, errors.New("command and event are exclusive")
	case n.Event != "":
		return parseEvent(n.Event)
	case n.Command != "":
		tag, err := parseCommandTag(n.Command)
		if err != nil {
			return nil, err
		}
		if n.Auto {
			if tag != conform.TagBurst {
				return nil, fmt.Errorf("auto sizing only applies to burst, not %s", tag)
			}
			return conform.AutoBurst(), nil
		}
		return conform.RawCommand(tag, n.Value), nil
	}
	return nil, errors.New("node with children needs a command or an event")
}

func parseCommandTag(name string) (conform.CommandTag, error) {
	for t := conform.TagHalReservedExit; t <= conform.TagFlush; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

func parseEvent(name string) (conform.Event, error) {
	for e := conform.EventTransferReady; e <= conform.EventError; e++ {
		if e.String() == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown event %q", name)
}
