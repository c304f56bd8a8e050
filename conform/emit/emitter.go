// Package emit provides event emission and observability for conformance runs.
package emit

// Emitter receives observability events produced while a Driver runs.
//
// Emitters enable pluggable backends:
//   - Logging: structured zerolog output
//   - Distributed tracing: OpenTelemetry spans
//   - In-memory history: inspection from tests
//
// Implementations should be:
//   - Non-blocking: the Driver calls Emit between a reply and the next command
//   - Thread-safe: several scenarios may share one emitter
//   - Resilient: never panic, never fail the run
type Emitter interface {
	// Emit sends an event to the configured backend.
	Emit(event Event)
}
