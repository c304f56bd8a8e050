package conform

import (
	"fmt"
	"strconv"
)

// Trigger labels an edge of the transition graph.
//
// It is a closed sum type with exactly two members:
//   - Command: a request the test sends to the session
//   - Event: an asynchronous notification the session delivers
//
// The interface method is unexported so no other package can add members.
// Use MatchTrigger to branch on the concrete kind.
type Trigger interface {
	isTrigger()
	String() string
}

// MatchTrigger dispatches t to onCommand or onEvent.
//
// Every branch that inspects a trigger goes through here so that adding a
// third kind is a compile-time change in one place.
func MatchTrigger[R any](t Trigger, onCommand func(Command) R, onEvent func(Event) R) R {
	switch v := t.(type) {
	case Command:
		return onCommand(v)
	case Event:
		return onEvent(v)
	default:
		panic(fmt.Sprintf("conform: unhandled trigger type %T", t))
	}
}

// CommandTag selects the operation of a Command.
type CommandTag int8

const (
	TagHalReservedExit CommandTag = iota
	TagGetStatus
	TagStart
	TagBurst
	TagDrain
	TagStandby
	TagPause
	TagFlush
)

var tagNames = map[CommandTag]string{
	TagHalReservedExit: "halReservedExit",
	TagGetStatus:       "getStatus",
	TagStart:           "start",
	TagBurst:           "burst",
	TagDrain:           "drain",
	TagStandby:         "standby",
	TagPause:           "pause",
	TagFlush:           "flush",
}

// Known reports whether the tag is a declared operation.
func (t CommandTag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

func (t CommandTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "tag(" + strconv.Itoa(int(t)) + ")"
}

// DrainMode is the payload of a drain command.
type DrainMode int32

const (
	DrainUnspecified DrainMode = iota
	DrainAll
	DrainEarlyNotify
)

func (m DrainMode) String() string {
	switch m {
	case DrainUnspecified:
		return "DRAIN_UNSPECIFIED"
	case DrainAll:
		return "DRAIN_ALL"
	case DrainEarlyNotify:
		return "DRAIN_EARLY_NOTIFY"
	}
	return "DrainMode(" + strconv.Itoa(int(m)) + ")"
}

// Command is a request sent to the session over the command queue.
//
// Value carries the operation payload: the byte count for burst, the
// DrainMode for drain, the cookie for halReservedExit. Auto marks a burst
// whose size is chosen by the Driver from the data queue's free space; it is
// not part of the wire record.
type Command struct {
	Tag   CommandTag
	Value int32
	Auto  bool
}

func (Command) isTrigger() {}

func (c Command) String() string {
	switch c.Tag {
	case TagBurst:
		if c.Auto {
			return "burst(auto)"
		}
		return "burst(" + strconv.Itoa(int(c.Value)) + ")"
	case TagDrain:
		return "drain(" + DrainMode(c.Value).String() + ")"
	case TagHalReservedExit:
		return "halReservedExit(" + strconv.Itoa(int(c.Value)) + ")"
	}
	if !c.Tag.Known() {
		return c.Tag.String() + "(" + strconv.Itoa(int(c.Value)) + ")"
	}
	return c.Tag.String()
}

// GetStatus returns a status query command. It never changes session state.
func GetStatus() Command { return Command{Tag: TagGetStatus} }

// Start returns a start command.
func Start() Command { return Command{Tag: TagStart} }

// Burst returns a burst command transferring exactly n bytes.
// Negative values are sent verbatim, which negative-case scenarios rely on.
func Burst(n int32) Command { return Command{Tag: TagBurst, Value: n} }

// AutoBurst returns a burst whose size the Driver picks per iteration.
func AutoBurst() Command { return Command{Tag: TagBurst, Auto: true} }

// Drain returns a drain command with the given mode.
func Drain(mode DrainMode) Command { return Command{Tag: TagDrain, Value: int32(mode)} }

// Standby returns a standby command.
func Standby() Command { return Command{Tag: TagStandby} }

// Pause returns a pause command.
func Pause() Command { return Command{Tag: TagPause} }

// Flush returns a flush command.
func Flush() Command { return Command{Tag: TagFlush} }

// HalReservedExit returns the reserved command that asks the session worker to exit.
func HalReservedExit(cookie int32) Command { return Command{Tag: TagHalReservedExit, Value: cookie} }

// RawCommand builds a command with an arbitrary tag, including undeclared ones.
func RawCommand(tag CommandTag, value int32) Command { return Command{Tag: tag, Value: value} }

// Event is an asynchronous notification delivered by the session.
type Event int8

const (
	// EventNone is never delivered by a session. The Receiver synthesizes it
	// when a wait times out.
	EventNone Event = iota
	EventTransferReady
	EventDrainReady
	EventError
)

func (Event) isTrigger() {}

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventTransferReady:
		return "transferReady"
	case EventDrainReady:
		return "drainReady"
	case EventError:
		return "error"
	}
	return "Event(" + strconv.Itoa(int(e)) + ")"
}
