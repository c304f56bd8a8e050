package queue

import (
	"context"

	"github.com/dshills/streamcheck/conform"
)

// SessionEnd is the session side of a command/reply transport: it receives
// commands and answers each with one reply.
type SessionEnd interface {
	ReadCommand(ctx context.Context) (conform.Command, error)
	WriteReply(ctx context.Context, r conform.Reply) error
}

// Endpoint is the session side of an in-process channel pair.
type Endpoint struct {
	commands  *Records[conform.Command]
	replies   *Records[conform.Reply]
	data      *Ring
	frameSize int
}

// NewChannelPair connects a test-side conform.Channel to a session-side
// Endpoint. Command and reply queues hold one record each, matching the
// one-command-in-flight protocol. dataBytes of zero means no data queue.
func NewChannelPair(frameSize, dataBytes int) (conform.Channel, *Endpoint) {
	ep := &Endpoint{
		commands:  NewRecords[conform.Command](1),
		replies:   NewRecords[conform.Reply](1),
		frameSize: frameSize,
	}
	ch := conform.Channel{
		Commands:       commandWriter{ep.commands},
		Replies:        replyReader{ep.replies},
		FrameSizeBytes: frameSize,
	}
	if dataBytes > 0 {
		ep.data = NewRing(dataBytes)
		ch.Data = ep.data
	}
	return ch, ep
}

// ReadCommand waits for the next command from the test side.
func (e *Endpoint) ReadCommand(ctx context.Context) (conform.Command, error) {
	return e.commands.Get(ctx)
}

// WriteReply answers the current command.
func (e *Endpoint) WriteReply(ctx context.Context, r conform.Reply) error {
	return e.replies.Put(ctx, r)
}

// Data returns the shared data queue, or nil when the pair has none.
func (e *Endpoint) Data() *Ring {
	return e.data
}

// FrameSizeBytes returns the frame size the pair was created with.
func (e *Endpoint) FrameSizeBytes() int {
	return e.frameSize
}

// Close closes both record queues. Blocked callers on either side return
// ErrClosed.
func (e *Endpoint) Close() {
	e.commands.Close()
	e.replies.Close()
}

type commandWriter struct {
	q *Records[conform.Command]
}

func (w commandWriter) WriteCommand(ctx context.Context, cmd conform.Command) error {
	return w.q.Put(ctx, cmd)
}

type replyReader struct {
	q *Records[conform.Reply]
}

func (r replyReader) ReadReply(ctx context.Context) (conform.Reply, error) {
	return r.q.Get(ctx)
}
