package emit

// Event is a point-in-time observation of one conformance run.
//
// Events describe:
//   - Transitions accepted by the graph cursor
//   - Replies rejected by validation
//   - Notification waits and timeouts
//   - Run completion (exit or abort)
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the 1-indexed Driver iteration. Zero for run-level events.
	Step int

	// Trigger is the command or notification that produced the event,
	// e.g. "burst(960)" or "drainReady". Empty for run-level events.
	Trigger string

	// Msg is the event name, one of the Msg* constants.
	Msg string

	// Meta carries structured detail. Common keys:
	//   - "from", "to": states around a transition
	//   - "status": reply status
	//   - "bytes": byte count reported by the session
	//   - "frames": observable position
	//   - "error": violation description (marks the event as an error)
	//   - "latency_ms": round-trip time of the exchange
	Meta map[string]interface{}
}

// Event names emitted by the conform package.
const (
	MsgTransition           = "transition"
	MsgUnexpectedTransition = "unexpected_transition"
	MsgReplyRejected        = "reply_rejected"
	MsgTransportFailure     = "transport_failure"
	MsgEventReceived        = "event_received"
	MsgEventTimeout         = "event_timeout"
	MsgStatusMismatch       = "status_mismatch"
	MsgRunExit              = "run_exit"
	MsgRunAbort             = "run_abort"
)
