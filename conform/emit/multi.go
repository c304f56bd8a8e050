package emit

// MultiEmitter sends every event to several emitters (fan-out), e.g. a
// BufferedEmitter for assertions next to a LogEmitter for humans.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter fans out to emitters. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to each emitter in order.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
