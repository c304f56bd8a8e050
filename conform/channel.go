package conform

import (
	"context"
	"errors"
)

// CommandWriter is the command-out half of a session channel.
//
// WriteCommand blocks until the command is queued. A non-nil error means the
// far end is gone or the queue made no progress.
type CommandWriter interface {
	WriteCommand(ctx context.Context, cmd Command) error
}

// ReplyReader is the reply-in half of a session channel.
//
// ReadReply blocks until the session produces the reply to the last command.
type ReplyReader interface {
	ReadReply(ctx context.Context) (Reply, error)
}

// DataQueue is the optional bulk-data path used by burst commands.
//
// Read and Write are all-or-nothing: they either transfer len(p) bytes or
// return an error without transferring anything.
type DataQueue interface {
	AvailableToRead() int
	AvailableToWrite() int
	Read(p []byte) error
	Write(p []byte) error
}

// Channel bundles the queues of one open session.
//
// The session must produce exactly one reply per command, in FIFO order.
// The Driver never has more than one command outstanding.
type Channel struct {
	Commands CommandWriter
	Replies  ReplyReader

	// Data is nil when the session does not use a shared data queue.
	Data DataQueue

	// FrameSizeBytes is the size of one frame in Data.
	FrameSizeBytes int
}

// Validate reports a missing queue or a non-positive frame size.
func (c Channel) Validate() error {
	if c.Commands == nil {
		return errors.New("channel has no command queue")
	}
	if c.Replies == nil {
		return errors.New("channel has no reply queue")
	}
	if c.Data != nil && c.FrameSizeBytes <= 0 {
		return errors.New("channel has a data queue but no frame size")
	}
	return nil
}

// exchange writes cmd and reads the reply that answers it.
func (c Channel) exchange(ctx context.Context, cmd Command) (Reply, error) {
	if err := c.Commands.WriteCommand(ctx, cmd); err != nil {
		return Reply{}, &transportError{op: "write command " + cmd.String(), err: err}
	}
	reply, err := c.Replies.ReadReply(ctx)
	if err != nil {
		return Reply{}, &transportError{op: "read reply to " + cmd.String(), err: err}
	}
	return reply, nil
}

// transportError wraps a queue failure so that errors.Is(err, ErrTransport)
// holds while the underlying cause stays reachable.
type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string {
	return ErrTransport.Error() + ": " + e.op + ": " + e.err.Error()
}

func (e *transportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *transportError) Unwrap() error {
	return e.err
}
