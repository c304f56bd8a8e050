// Package sim implements a reference audio stream session in software. It
// serves the session side of a command/reply transport, moves through the
// stream state machine, and delivers transfer and drain notifications, so
// that the conformance engine can be exercised without vendor hardware.
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/streamcheck/conform"
)

// Defaults applied by Open for zero-valued fields.
const (
	DefaultFrameSizeBytes = 4
	DefaultBufferFrames   = 256
	DefaultNotifyDelay    = 5 * time.Millisecond
	DefaultLatencyMs      = 10
	DefaultExitCookie     = 0x7e57
)

// Config describes the session to simulate.
type Config struct {
	Direction      conform.Direction
	Async          bool
	FrameSizeBytes int
	BufferFrames   int

	// NoDataQueue opens the session without a shared data queue; bursts
	// then report the requested size as transferred.
	NoDataQueue bool

	// MinBufferFrames makes Open fail with a *SuggestionError when
	// BufferFrames is smaller, like a device that rejects a configuration and
	// proposes one it supports.
	MinBufferFrames int

	// SlowDrain makes a synchronous output drain report DRAINING and
	// complete after NotifyDelay instead of completing within the command.
	SlowDrain bool

	// NotifyDelay is how long transfers and drains take to complete.
	NotifyDelay time.Duration

	// LatencyMs is reported in every reply.
	LatencyMs int32

	// ExitCookie is the halReservedExit value that stops the session.
	ExitCookie int32

	// ReplyHook may rewrite each reply before it is sent.
	ReplyHook func(cmd conform.Command, r *conform.Reply)

	// SuppressNotifications completes transfers and drains without calling
	// the event callback.
	SuppressNotifications bool

	// FreezePosition keeps the observable position at zero, like a
	// pass-through device that cannot report progress.
	FreezePosition bool

	Logger *zerolog.Logger
}

// Descriptor returns the stream parameters a test sees for this session.
func (c Config) Descriptor() conform.Descriptor {
	c = c.withDefaults()
	return conform.Descriptor{
		FrameSizeBytes: c.FrameSizeBytes,
		BufferFrames:   c.BufferFrames,
		Direction:      c.Direction,
		Async:          c.Async,
		PassThrough:    c.FreezePosition,
		HasDataQueue:   !c.NoDataQueue,
	}
}

func (c Config) withDefaults() Config {
	if c.FrameSizeBytes == 0 {
		c.FrameSizeBytes = DefaultFrameSizeBytes
	}
	if c.BufferFrames == 0 {
		c.BufferFrames = DefaultBufferFrames
	}
	if c.NotifyDelay == 0 {
		c.NotifyDelay = DefaultNotifyDelay
	}
	if c.LatencyMs == 0 {
		c.LatencyMs = DefaultLatencyMs
	}
	if c.ExitCookie == 0 {
		c.ExitCookie = DefaultExitCookie
	}
	return c
}

// Validate reports parameters the session cannot open with.
func (c Config) Validate() error {
	if c.FrameSizeBytes < 0 {
		return fmt.Errorf("frame size %d must be positive", c.FrameSizeBytes)
	}
	if c.BufferFrames < 0 {
		return fmt.Errorf("buffer frames %d must be positive", c.BufferFrames)
	}
	if c.NotifyDelay < 0 {
		return errors.New("notify delay cannot be negative")
	}
	if c.Async && c.Direction.IsInput() {
		return errors.New("asynchronous input streams are not supported")
	}
	return nil
}

// SuggestionError is returned by Open when the session rejects the requested
// configuration but proposes one it would accept.
type SuggestionError struct {
	Requested Config
	Suggested Config
	Reason    string
}

func (e *SuggestionError) Error() string {
	return "configuration rejected: " + e.Reason
}

// SuggestedDescriptor returns the stream parameters the session would accept.
func (e *SuggestionError) SuggestedDescriptor() conform.Descriptor {
	return e.Suggested.Descriptor()
}

func (c Config) suggestion() error {
	if c.MinBufferFrames > 0 && c.BufferFrames < c.MinBufferFrames {
		s := c
		s.BufferFrames = c.MinBufferFrames
		return &SuggestionError{
			Requested: c,
			Suggested: s,
			Reason:    fmt.Sprintf("buffer of %d frames is below the minimum of %d", c.BufferFrames, c.MinBufferFrames),
		}
	}
	return nil
}
