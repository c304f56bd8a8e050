package sim

import "github.com/dshills/streamcheck/conform"

// transitions maps a state and command to the state the session moves to.
// A missing entry means the command is rejected with StatusInvalidOperation.
// getStatus and halReservedExit are handled before the table is consulted.
type transitions map[conform.State]map[conform.CommandTag]conform.State

var (
	outputSync = transitions{
		conform.StateStandby: {
			conform.TagStart: conform.StateIdle,
		},
		conform.StateIdle: {
			conform.TagBurst:   conform.StateActive,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateActive: {
			conform.TagBurst: conform.StateActive,
			conform.TagDrain: conform.StateDraining,
			conform.TagPause: conform.StatePaused,
		},
		conform.StatePaused: {
			conform.TagBurst:   conform.StatePaused,
			conform.TagStart:   conform.StateActive,
			conform.TagFlush:   conform.StateIdle,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateDraining: {
			conform.TagBurst: conform.StateActive,
			conform.TagStart: conform.StateActive,
			conform.TagPause: conform.StateDrainPaused,
		},
		conform.StateDrainPaused: {
			conform.TagStart: conform.StateDraining,
			conform.TagBurst: conform.StateTransferPaused,
			conform.TagFlush: conform.StateIdle,
		},
		conform.StateTransferPaused: {
			conform.TagStart: conform.StateActive,
			conform.TagBurst: conform.StateTransferPaused,
			conform.TagFlush: conform.StateIdle,
		},
	}

	outputAsync = transitions{
		conform.StateStandby: {
			conform.TagStart: conform.StateIdle,
		},
		conform.StateIdle: {
			conform.TagBurst:   conform.StateTransferring,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateActive: {
			conform.TagBurst: conform.StateTransferring,
			conform.TagDrain: conform.StateDraining,
			conform.TagPause: conform.StatePaused,
		},
		conform.StatePaused: {
			conform.TagBurst:   conform.StateTransferPaused,
			conform.TagStart:   conform.StateActive,
			conform.TagFlush:   conform.StateIdle,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateTransferring: {
			conform.TagBurst: conform.StateTransferring,
			conform.TagDrain: conform.StateDraining,
			conform.TagPause: conform.StateTransferPaused,
		},
		conform.StateTransferPaused: {
			conform.TagStart: conform.StateTransferring,
			conform.TagBurst: conform.StateTransferPaused,
			conform.TagFlush: conform.StateIdle,
		},
		conform.StateDraining: {
			conform.TagBurst: conform.StateTransferring,
			conform.TagStart: conform.StateActive,
			conform.TagPause: conform.StateDrainPaused,
		},
		conform.StateDrainPaused: {
			conform.TagStart: conform.StateDraining,
			conform.TagBurst: conform.StateTransferPaused,
			conform.TagFlush: conform.StateIdle,
		},
	}

	input = transitions{
		conform.StateStandby: {
			conform.TagStart: conform.StateIdle,
		},
		conform.StateIdle: {
			conform.TagBurst:   conform.StateActive,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateActive: {
			conform.TagBurst: conform.StateActive,
			conform.TagDrain: conform.StateDraining,
			conform.TagPause: conform.StatePaused,
		},
		conform.StatePaused: {
			conform.TagStart:   conform.StateActive,
			conform.TagFlush:   conform.StateStandby,
			conform.TagStandby: conform.StateStandby,
		},
		conform.StateDraining: {
			conform.TagBurst: conform.StateDraining,
			conform.TagStart: conform.StateActive,
		},
	}
)

func tableFor(dir conform.Direction, async bool) transitions {
	switch {
	case dir.IsInput():
		return input
	case async:
		return outputAsync
	default:
		return outputSync
	}
}

// next looks up the destination of cmd in state from.
func (t transitions) next(from conform.State, cmd conform.CommandTag) (conform.State, bool) {
	to, ok := t[from][cmd]
	return to, ok
}
