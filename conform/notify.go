package conform

import (
	"context"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds every Receiver wait so that a session which never
// delivers an expected notification fails the scenario instead of hanging it.
const DefaultWaitTimeout = time.Second

// EventCallback is the push-style interface a session uses to deliver
// asynchronous notifications. Calls arrive on a goroutine the test does not
// control.
type EventCallback interface {
	OnTransferReady()
	OnDrainReady()
	OnError(msg string)
}

// Receiver records notifications delivered through EventCallback and lets the
// Driver wait for them.
//
// Every delivered event increments a sequence number. Waiters pass the last
// sequence number they have consumed, so an event delivered between "check"
// and "wait" is never missed. The last event and its sequence number are the
// only shared mutable state of the engine; they are guarded by mu and cond.
//
// Create one Receiver per opened session and drop it with the session.
type Receiver struct {
	mu        sync.Mutex
	cond      *sync.Cond
	last      Event
	seq       int64
	lastError string
	timeout   time.Duration
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithWaitTimeout overrides DefaultWaitTimeout. Non-positive values are ignored.
func WithWaitTimeout(d time.Duration) ReceiverOption {
	return func(r *Receiver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewReceiver returns a Receiver with no events delivered (sequence 0).
func NewReceiver(opts ...ReceiverOption) *Receiver {
	r := &Receiver{timeout: DefaultWaitTimeout}
	r.cond = sync.NewCond(&r.mu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTransferReady implements EventCallback.
func (r *Receiver) OnTransferReady() {
	r.deliver(EventTransferReady, "")
}

// OnDrainReady implements EventCallback.
func (r *Receiver) OnDrainReady() {
	r.deliver(EventDrainReady, "")
}

// OnError implements EventCallback.
func (r *Receiver) OnError(msg string) {
	r.deliver(EventError, msg)
}

func (r *Receiver) deliver(ev Event, msg string) {
	r.mu.Lock()
	r.last = ev
	r.seq++
	if ev == EventError {
		r.lastError = msg
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Seq returns the sequence number of the most recently delivered event.
func (r *Receiver) Seq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Timeout returns the bound applied to every wait.
func (r *Receiver) Timeout() time.Duration {
	return r.timeout
}

// LastError returns the message of the most recent error notification.
func (r *Receiver) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// WaitForEvent returns the most recent event once its sequence number is
// greater than since, together with that sequence number.
//
// If nothing newer arrives within the receiver timeout, or ctx is cancelled
// first, it returns (EventNone, since).
func (r *Receiver) WaitForEvent(ctx context.Context, since int64) (Event, int64) {
	deadline := time.Now().Add(r.timeout)
	timer := time.AfterFunc(r.timeout, r.wake)
	defer timer.Stop()
	stop := context.AfterFunc(ctx, r.wake)
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.seq <= since {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return EventNone, since
		}
		r.cond.Wait()
	}
	return r.last, r.seq
}

func (r *Receiver) wake() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}
