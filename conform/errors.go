package conform

import (
	"errors"
	"fmt"
)

// ErrTransport indicates that a command could not be written or a reply could
// not be read. The run is aborted but the process keeps going.
var ErrTransport = errors.New("transport failure")

// ErrCursorDone indicates that a trigger was requested from a cursor that has
// reached a terminal node.
var ErrCursorDone = errors.New("cursor is at a terminal node")

// ErrInvalidGraph indicates a transition graph that violates its structural
// invariants (no start node, dangling child, start node with a parent).
var ErrInvalidGraph = errors.New("invalid transition graph")

// Violation kinds carried by ProtocolError and the violations metric.
const (
	KindBadStatus      = "BAD_STATUS"
	KindUnknownStatus  = "UNKNOWN_STATUS"
	KindByteCount      = "BYTE_COUNT"
	KindLatency        = "LATENCY"
	KindXrun           = "XRUN"
	KindPosition       = "POSITION"
	KindInvalidState   = "INVALID_STATE"
	KindUnexpectedMove = "UNEXPECTED_TRANSITION"
	KindEventMismatch  = "EVENT_MISMATCH"
	KindDataQueue      = "DATA_QUEUE"
)

// ProtocolError describes a reply that breaks the session contract.
type ProtocolError struct {
	// Kind is a machine-readable category, one of the Kind* constants.
	Kind string

	// Command is the command whose reply was rejected.
	Command Command

	// Reply is the offending reply.
	Reply Reply

	// Message is the human-readable description.
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s (command %s, reply %s)", e.Kind, e.Message, e.Command, e.Reply)
}

// GraphError reports an inconsistency between a declared transition graph and
// the state it was asked to follow. It is a bug in the scenario, not in the
// session under test, and is raised as a panic by Cursor.Advance.
type GraphError struct {
	Node     NodeID
	State    State
	Observed State
	Expected []State
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("transition graph node %d (%s) has no child in state %s, expected one of %v",
		e.Node, e.State, e.Observed, e.Expected)
}

// Unwrap lets callers match the error with errors.Is(err, ErrInvalidGraph).
func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}
