// Package scenario declares the transition graphs of the standard stream
// scenarios and runs them as a suite against sessions opened on demand.
package scenario

import "github.com/dshills/streamcheck/conform"

// DefaultBursts is how many bursts the transfer scenarios send.
const DefaultBursts = 3

// WriteGraph starts a synchronous stream and writes several bursts.
//
//	STANDBY -start-> IDLE -burst-> ACTIVE -burst-> ACTIVE -burst-> ACTIVE
func WriteGraph(desc conform.Descriptor) *conform.Graph {
	return transferGraph(DefaultBursts)
}

// ReadGraph is WriteGraph for input streams: each burst asks the session to
// capture data, which the driver then drains from the data queue.
func ReadGraph(desc conform.Descriptor) *conform.Graph {
	return transferGraph(DefaultBursts)
}

func transferGraph(bursts int) *conform.Graph {
	g := conform.NewGraph()
	steps := []conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
		{State: conform.StateIdle, Trigger: conform.AutoBurst()},
	}
	for i := 1; i < bursts; i++ {
		steps = append(steps, conform.Step{State: conform.StateActive, Trigger: conform.AutoBurst()})
	}
	g.NewChain(steps, g.NewTerminalNode(conform.StateActive))
	return g
}

// StandbyGraph opens the stream, returns it to standby and starts it again.
// No data is transferred, so it applies to every stream.
func StandbyGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	g.NewChain([]conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
		{State: conform.StateIdle, Trigger: conform.Standby()},
		{State: conform.StateStandby, Trigger: conform.Start()},
	}, g.NewTerminalNode(conform.StateIdle))
	return g
}

// PauseGraph pauses an active synchronous stream, resumes it, pauses it
// again and puts it into standby.
func PauseGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	g.NewChain([]conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
		{State: conform.StateIdle, Trigger: conform.AutoBurst()},
		{State: conform.StateActive, Trigger: conform.Pause()},
		{State: conform.StatePaused, Trigger: conform.Start()},
		{State: conform.StateActive, Trigger: conform.AutoBurst()},
		{State: conform.StateActive, Trigger: conform.Pause()},
		{State: conform.StatePaused, Trigger: conform.Standby()},
	}, g.NewTerminalNode(conform.StateStandby))
	return g
}

// FlushGraph discards data held by a paused stream. Output streams flush to
// IDLE after queueing one more burst while paused; input streams flush to
// STANDBY. The observable position may reset to zero on flush.
func FlushGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	if desc.Direction.IsInput() {
		g.NewChain([]conform.Step{
			{State: conform.StateStandby, Trigger: conform.Start()},
			{State: conform.StateIdle, Trigger: conform.AutoBurst()},
			{State: conform.StateActive, Trigger: conform.Pause()},
			{State: conform.StatePaused, Trigger: conform.Flush()},
		}, g.NewTerminalNode(conform.StateStandby))
		return g
	}
	g.NewChain([]conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
		{State: conform.StateIdle, Trigger: conform.AutoBurst()},
		{State: conform.StateActive, Trigger: conform.Pause()},
		{State: conform.StatePaused, Trigger: conform.AutoBurst()},
		{State: conform.StatePaused, Trigger: conform.Flush()},
	}, g.NewTerminalNode(conform.StateIdle))
	return g
}

// DrainGraph drains a synchronous stream. The session may finish the drain
// within the command (IDLE) or report DRAINING; the DRAINING branch is
// paused and flushed, and both branches converge on the same IDLE node.
// Input streams keep reading until the session reports IDLE.
func DrainGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	standby := g.NewTerminalNode(conform.StateStandby)
	idle := g.NewNode(conform.StateIdle, conform.Standby(), standby)

	if desc.Direction.IsInput() {
		// Each read either leaves capture data behind or ends the drain.
		next := g.NewNode(conform.StateDraining, conform.AutoBurst(), idle)
		for i := 0; i < DefaultBursts; i++ {
			next = g.NewNode(conform.StateDraining, conform.AutoBurst(), next, idle)
		}
		draining := next
		active := g.NewNode(conform.StateActive, conform.Drain(conform.DrainUnspecified), draining)
		g.NewChain([]conform.Step{
			{State: conform.StateStandby, Trigger: conform.Start()},
			{State: conform.StateIdle, Trigger: conform.AutoBurst()},
		}, active)
		return g
	}

	paused := g.NewNode(conform.StateDrainPaused, conform.Flush(), idle)
	draining := g.NewNode(conform.StateDraining, conform.Pause(), paused)
	active := g.NewNode(conform.StateActive, conform.Drain(conform.DrainUnspecified), draining, idle)
	g.NewChain([]conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
		{State: conform.StateIdle, Trigger: conform.AutoBurst()},
	}, active)
	return g
}

// AsyncDrainGraph writes to an asynchronous output stream and drains it,
// waiting for the transfer-ready and drain-ready notifications. A session
// that completes the transfer before replying may report ACTIVE directly.
func AsyncDrainGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	idle := g.NewTerminalNode(conform.StateIdle)
	draining := g.NewNode(conform.StateDraining, conform.EventDrainReady, idle)
	active := g.NewNode(conform.StateActive, conform.Drain(conform.DrainAll), draining, idle)
	transferring := g.NewNode(conform.StateTransferring, conform.EventTransferReady, active)
	g.NewChain([]conform.Step{
		{State: conform.StateStandby, Trigger: conform.Start()},
	}, g.NewNode(conform.StateIdle, conform.AutoBurst(), transferring, active))
	return g
}

// AsyncWriteGraph writes several bursts to an asynchronous output stream,
// waiting for transfer-ready after each one.
func AsyncWriteGraph(desc conform.Descriptor) *conform.Graph {
	g := conform.NewGraph()
	next := g.NewTerminalNode(conform.StateActive)
	for i := 1; i < DefaultBursts; i++ {
		transferring := g.NewNode(conform.StateTransferring, conform.EventTransferReady, next)
		next = g.NewNode(conform.StateActive, conform.AutoBurst(), transferring, next)
	}
	transferring := g.NewNode(conform.StateTransferring, conform.EventTransferReady, next)
	idle := g.NewNode(conform.StateIdle, conform.AutoBurst(), transferring, next)
	g.NewNode(conform.StateStandby, conform.Start(), idle)
	return g
}
