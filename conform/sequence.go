package conform

// Cursor walks a Graph during one run.
//
// It holds nothing but the graph and the current node, so rewinding and
// replaying an identical session trace yields an identical walk. A Cursor is
// confined to the Driver's goroutine and is not safe for concurrent use.
type Cursor struct {
	graph   *Graph
	current NodeID
}

// NewCursor returns a cursor positioned at the start node of g.
func NewCursor(g *Graph) *Cursor {
	return &Cursor{graph: g, current: g.Start()}
}

// Graph returns the graph the cursor walks.
func (c *Cursor) Graph() *Graph {
	return c.graph
}

// Rewind moves the cursor back to the start node.
func (c *Cursor) Rewind() {
	c.current = c.graph.Start()
}

// Current returns the id of the current node.
func (c *Cursor) Current() NodeID {
	return c.current
}

// CurrentState returns the state declared for the current node.
func (c *Cursor) CurrentState() State {
	return c.graph.at(c.current).state
}

// Done reports whether the current node is terminal.
func (c *Cursor) Done() bool {
	return len(c.graph.at(c.current).children) == 0
}

// NextTrigger returns the trigger attached to the current node.
// It panics with ErrCursorDone when the cursor is done.
func (c *Cursor) NextTrigger() Trigger {
	if c.Done() {
		panic(ErrCursorDone)
	}
	return c.graph.at(c.current).trigger
}

// ExpectedStates returns every state the session may legally report next,
// without duplicates, in child order.
func (c *Cursor) ExpectedStates() []State {
	n := c.graph.at(c.current)
	out := make([]State, 0, len(n.children))
	for _, id := range n.children {
		s := c.graph.at(id).state
		if !containsState(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Expects reports whether observed is one of ExpectedStates.
func (c *Cursor) Expects(observed State) bool {
	for _, id := range c.graph.at(c.current).children {
		if c.graph.at(id).state == observed {
			return true
		}
	}
	return false
}

// Advance moves to the first child whose state equals observed.
//
// The caller must check Expects first. A state without a matching child means
// the graph cannot describe what the caller believes happened, so Advance
// panics with a *GraphError instead of continuing on a desynchronized cursor.
func (c *Cursor) Advance(observed State) {
	n := c.graph.at(c.current)
	for _, id := range n.children {
		if c.graph.at(id).state == observed {
			c.current = id
			return
		}
	}
	panic(&GraphError{
		Node:     c.current,
		State:    n.state,
		Observed: observed,
		Expected: c.ExpectedStates(),
	})
}

func containsState(states []State, s State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}
