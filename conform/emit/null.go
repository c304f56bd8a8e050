package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when a Driver is built without observability; it keeps call sites
// free of nil checks.
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
