// Package conform provides the session protocol conformance engine for streamcheck.
package conform

import (
	"fmt"
	"strconv"
)

// State is one stage of the session lifecycle as reported in every Reply.
//
// The set is closed: a session must never report a value outside of it.
// Use Valid to check membership of a value decoded from the wire.
type State int8

const (
	StateStandby State = iota + 1
	StateIdle
	StateActive
	StatePaused
	StateDraining
	StateDrainPaused
	StateTransferring
	StateTransferPaused
	StateError
)

var stateNames = map[State]string{
	StateStandby:        "STANDBY",
	StateIdle:           "IDLE",
	StateActive:         "ACTIVE",
	StatePaused:         "PAUSED",
	StateDraining:       "DRAINING",
	StateDrainPaused:    "DRAIN_PAUSED",
	StateTransferring:   "TRANSFERRING",
	StateTransferPaused: "TRANSFER_PAUSED",
	StateError:          "ERROR",
}

// AllStates returns every member of the State enum in declaration order.
func AllStates() []State {
	return []State{
		StateStandby, StateIdle, StateActive, StatePaused, StateDraining,
		StateDrainPaused, StateTransferring, StateTransferPaused, StateError,
	}
}

// Valid reports whether s is a member of the State enum.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// ParseState converts a state name (as produced by String) back to a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// Status is the result code carried by a Reply.
type Status int32

const (
	StatusOK               Status = 0
	StatusNoInit           Status = -19
	StatusBadValue         Status = -22
	StatusInvalidOperation Status = -38
	StatusNotEnoughData    Status = -61
)

var statusNames = map[Status]string{
	StatusOK:               "OK",
	StatusNoInit:           "NO_INIT",
	StatusBadValue:         "BAD_VALUE",
	StatusInvalidOperation: "INVALID_OPERATION",
	StatusNotEnoughData:    "NOT_ENOUGH_DATA",
}

// Known reports whether s is one of the declared status codes.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

const (
	// UnknownPosition marks a Position field the session could not determine.
	UnknownPosition int64 = -1

	// LatencyUnknown marks a latency estimate the session could not determine.
	LatencyUnknown int32 = -1
)

// Position is a frame counter paired with the monotonic time it was sampled at.
type Position struct {
	Frames int64
	TimeNs int64
}

// Known reports whether the frame counter carries a real value.
func (p Position) Known() bool {
	return p.Frames != UnknownPosition
}

// Reply is the structured response a session produces for every command.
type Reply struct {
	Status       Status
	FMQByteCount int32
	Observable   Position
	Hardware     Position
	LatencyMs    int32
	XrunFrames   int32
	State        State
}

func (r Reply) String() string {
	return fmt.Sprintf("{status: %s, bytes: %d, frames: %d, latencyMs: %d, xrun: %d, state: %s}",
		r.Status, r.FMQByteCount, r.Observable.Frames, r.LatencyMs, r.XrunFrames, r.State)
}
