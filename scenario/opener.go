package scenario

import (
	"context"
	"sync/atomic"

	"github.com/dshills/streamcheck/conform"
	"github.com/dshills/streamcheck/sim"
)

// Session is an opened stream under test.
type Session interface {
	Channel() conform.Channel
	Descriptor() conform.Descriptor
	Close() error
}

// Opener opens a fresh session for each scenario run.
type Opener interface {
	Open(ctx context.Context, desc conform.Descriptor, cb conform.EventCallback) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, desc conform.Descriptor, cb conform.EventCallback) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, desc conform.Descriptor, cb conform.EventCallback) (Session, error) {
	return f(ctx, desc, cb)
}

// Suggestion is implemented by open errors that carry a configuration the
// session would accept instead.
type Suggestion interface {
	error
	SuggestedDescriptor() conform.Descriptor
}

// SimOpener opens reference sessions. Stream parameters come from the
// requested descriptor; everything else (delays, faults, limits) from base.
func SimOpener(base sim.Config) Opener {
	return OpenerFunc(func(ctx context.Context, desc conform.Descriptor, cb conform.EventCallback) (Session, error) {
		cfg := base
		cfg.Direction = desc.Direction
		cfg.Async = desc.Async
		cfg.FrameSizeBytes = desc.FrameSizeBytes
		cfg.BufferFrames = desc.BufferFrames
		cfg.NoDataQueue = !desc.HasDataQueue
		st, err := sim.Open(ctx, cfg, cb)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}

// relay forwards notifications to a receiver bound after the session was
// opened. Until then notifications are dropped.
type relay struct {
	target atomic.Pointer[conform.Receiver]
}

func (r *relay) bind(rx *conform.Receiver) {
	r.target.Store(rx)
}

func (r *relay) OnTransferReady() {
	if rx := r.target.Load(); rx != nil {
		rx.OnTransferReady()
	}
}

func (r *relay) OnDrainReady() {
	if rx := r.target.Load(); rx != nil {
		rx.OnDrainReady()
	}
}

func (r *relay) OnError(msg string) {
	if rx := r.target.Load(); rx != nil {
		rx.OnError(msg)
	}
}
