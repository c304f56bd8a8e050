package queue

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dshills/streamcheck/conform"
)

// Wire carries command and reply records over a byte stream using the
// conform binary record layout. The same type serves both ends: the test
// side uses WriteCommand/ReadReply and the session side ReadCommand/WriteReply.
//
// When the stream has read/write deadlines (net.Conn, net.Pipe) a cancelled
// context interrupts a blocked call; otherwise the context is only checked
// before each transfer.
type Wire struct {
	rw  io.ReadWriter
	rmu sync.Mutex
	wmu sync.Mutex
}

// NewWire wraps rw.
func NewWire(rw io.ReadWriter) *Wire {
	return &Wire{rw: rw}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WriteCommand sends one command record.
func (w *Wire) WriteCommand(ctx context.Context, cmd conform.Command) error {
	return w.send(ctx, cmd)
}

// ReadCommand receives one command record.
func (w *Wire) ReadCommand(ctx context.Context) (conform.Command, error) {
	var cmd conform.Command
	err := w.receive(ctx, &cmd, conform.CommandRecordSize)
	return cmd, err
}

// WriteReply sends one reply record.
func (w *Wire) WriteReply(ctx context.Context, r conform.Reply) error {
	return w.send(ctx, r)
}

// ReadReply receives one reply record.
func (w *Wire) ReadReply(ctx context.Context) (conform.Reply, error) {
	var r conform.Reply
	err := w.receive(ctx, &r, conform.ReplyRecordSize)
	return r, err
}

func (w *Wire) send(ctx context.Context, rec encoding.BinaryMarshaler) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	release, err := w.bind(ctx, false)
	if err != nil {
		return err
	}
	defer release()

	if _, err := w.rw.Write(buf); err != nil {
		return failure(ctx, "write record", err)
	}
	return nil
}

func (w *Wire) receive(ctx context.Context, rec encoding.BinaryUnmarshaler, size int) error {
	w.rmu.Lock()
	defer w.rmu.Unlock()

	release, err := w.bind(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	buf := make([]byte, size)
	if _, err := io.ReadFull(w.rw, buf); err != nil {
		return failure(ctx, "read record", err)
	}
	return rec.UnmarshalBinary(buf)
}

// failure reports a stream error caused by the context as the context
// error. The stream deadline can fire just before the context notices its
// own, so a stream timeout under a context deadline counts as one.
func failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return fmt.Errorf("%s: %w", op, err)
}

// bind applies the context deadline to the stream and arranges for
// cancellation to expire it. release undoes both.
func (w *Wire) bind(ctx context.Context, read bool) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := w.rw.(deadliner)
	if !ok {
		return func() {}, nil
	}
	set := d.SetWriteDeadline
	if read {
		set = d.SetReadDeadline
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = set(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = set(time.Time{})
	}, nil
}
