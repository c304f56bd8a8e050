package conform

import (
	"fmt"
	"strings"
)

// NodeID addresses a node inside the arena of one Graph.
type NodeID int

// noNode marks an unset start node.
const noNode NodeID = -1

// node is one (state, trigger) pair together with the nodes reachable by
// sending the trigger while the session is in state.
type node struct {
	state    State
	trigger  Trigger
	children []NodeID
}

// Step is one (state, trigger) element of a chain passed to NewChain.
type Step struct {
	State   State
	Trigger Trigger
}

// Graph is the declarative set of legal paths the session may take during
// one scenario.
//
// Nodes live in an append-only arena and refer to their children by NodeID,
// so several parents can share one child (the graph is a DAG, not a tree).
// A child must exist before a parent can reference it, which makes cycles
// impossible by construction.
//
// The start node is the most recently created node unless SetStart picks
// another one. Once the building function returns the graph must not be
// modified; it is then safe to share between goroutines without locking.
//
// Example:
//
//	g := conform.NewGraph()
//	idle := g.NewTerminalNode(conform.StateIdle)
//	g.NewChain([]conform.Step{
//	    {conform.StateStandby, conform.Start()},
//	    {conform.StateIdle, conform.AutoBurst()},
//	    {conform.StateActive, conform.Drain(conform.DrainAll)},
//	}, idle)
type Graph struct {
	nodes []node
	start NodeID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{start: noNode}
}

// NewNode appends a node and returns its id. The node becomes the start node
// unless SetStart has been called.
func (g *Graph) NewNode(state State, trigger Trigger, children ...NodeID) NodeID {
	id := NodeID(len(g.nodes))
	kids := make([]NodeID, len(children))
	copy(kids, children)
	g.nodes = append(g.nodes, node{state: state, trigger: trigger, children: kids})
	return id
}

// NewTerminalNode appends a node without children. Its trigger is a
// placeholder that is never sent.
func (g *Graph) NewTerminalNode(state State) NodeID {
	return g.NewNode(state, GetStatus())
}

// NewChain builds the linear path steps[0] -> steps[1] -> ... -> tail and
// returns the id of its head.
//
// Nodes are created from the tail backwards because a node can only refer to
// children that already exist, so steps[0] is the last node created and, by
// default, the new start node.
func (g *Graph) NewChain(steps []Step, tail NodeID) NodeID {
	next := tail
	for i := len(steps) - 1; i >= 0; i-- {
		next = g.NewNode(steps[i].State, steps[i].Trigger, next)
	}
	return next
}

// SetStart designates the start node explicitly.
func (g *Graph) SetStart(id NodeID) {
	g.start = id
}

// Start returns the start node.
func (g *Graph) Start() NodeID {
	if g.start != noNode {
		return g.start
	}
	return NodeID(len(g.nodes) - 1)
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// States returns the distinct states that appear anywhere in the graph.
func (g *Graph) States() []State {
	seen := make(map[State]bool)
	var out []State
	for _, n := range g.nodes {
		if !seen[n.state] {
			seen[n.state] = true
			out = append(out, n.state)
		}
	}
	return out
}

// Validate checks the structural invariants of the graph.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalidGraph)
	}
	start := g.Start()
	if !g.has(start) {
		return fmt.Errorf("%w: start node %d does not exist", ErrInvalidGraph, start)
	}
	for i, n := range g.nodes {
		if !n.state.Valid() {
			return fmt.Errorf("%w: node %d has invalid state %s", ErrInvalidGraph, i, n.state)
		}
		for _, c := range n.children {
			if !g.has(c) {
				return fmt.Errorf("%w: node %d refers to missing child %d", ErrInvalidGraph, i, c)
			}
			if c == start {
				return fmt.Errorf("%w: start node %d is a child of node %d", ErrInvalidGraph, start, i)
			}
		}
		if len(n.children) > 0 && n.trigger == nil {
			return fmt.Errorf("%w: node %d has children but no trigger", ErrInvalidGraph, i)
		}
	}
	return nil
}

// String dumps the arena, one node per line, for debugging.
func (g *Graph) String() string {
	var b strings.Builder
	start := g.Start()
	for i, n := range g.nodes {
		marker := " "
		if NodeID(i) == start {
			marker = "*"
		}
		if len(n.children) == 0 {
			fmt.Fprintf(&b, "%s%d: %s (terminal)\n", marker, i, n.state)
			continue
		}
		fmt.Fprintf(&b, "%s%d: %s --%s--> %v\n", marker, i, n.state, n.trigger, n.children)
	}
	return b.String()
}

func (g *Graph) has(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

func (g *Graph) at(id NodeID) *node {
	return &g.nodes[id]
}
