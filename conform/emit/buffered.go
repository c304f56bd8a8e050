package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are grouped by RunID. Tests use it to assert on what a Driver did
// after the Worker has joined; the suite runner uses it to attach a trace to
// failing results.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	driver, _ := conform.NewDriver(cursor, ch, rx, conform.Output,
//	    conform.WithRunID("write-1"), conform.WithEmitter(emitter))
//	...
//	aborts := emitter.GetHistoryWithFilter("write-1", emit.HistoryFilter{Msg: emit.MsgRunAbort})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter selects events from a run. Empty fields do not filter;
// set fields are combined with AND.
type HistoryFilter struct {
	Trigger string // exact trigger string
	Msg     string // exact event name
	MinStep *int   // step >= MinStep
	MaxStep *int   // step <= MaxStep
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores event under its RunID.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event of runID in emission order.
// It returns an empty, non-nil slice for unknown runs.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events of runID matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[runID]))
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Runs returns the ids of all runs with at least one event.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	runs := make([]string, 0, len(b.events))
	for id := range b.events {
		runs = append(runs, id)
	}
	return runs
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Trigger != "" && event.Trigger != filter.Trigger {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
