package conform

import (
	"context"
	"errors"
	"sync"
)

var errScriptExhausted = errors.New("script exhausted")

// scriptedSession answers commands with canned replies, in order.
type scriptedSession struct {
	mu        sync.Mutex
	replies   []Reply
	sent      []Command
	onCommand func(Command)
	writeErr  error
	blockRead bool
}

func newScriptedSession(replies ...Reply) *scriptedSession {
	return &scriptedSession{replies: replies}
}

func (s *scriptedSession) WriteCommand(_ context.Context, cmd Command) error {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, cmd)
	hook := s.onCommand
	s.mu.Unlock()
	if hook != nil {
		hook(cmd)
	}
	return nil
}

func (s *scriptedSession) ReadReply(ctx context.Context) (Reply, error) {
	s.mu.Lock()
	if s.blockRead {
		s.mu.Unlock()
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return Reply{}, errScriptExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedSession) Sent() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.sent...)
}

// channel wraps the session. Pass a nil DataQueue for sessions without one.
func (s *scriptedSession) channel(data DataQueue, frameSize int) Channel {
	return Channel{Commands: s, Replies: s, Data: data, FrameSizeBytes: frameSize}
}

// memQueue is a bounded byte FIFO that remembers every write.
type memQueue struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	writes   [][]byte
}

func newMemQueue(capacity int) *memQueue {
	return &memQueue{capacity: capacity}
}

func (q *memQueue) AvailableToRead() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *memQueue) AvailableToWrite() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.buf)
}

func (q *memQueue) Write(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(p) > q.capacity-len(q.buf) {
		return errors.New("queue full")
	}
	q.buf = append(q.buf, p...)
	q.writes = append(q.writes, append([]byte(nil), p...))
	return nil
}

func (q *memQueue) Read(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(p) > len(q.buf) {
		return errors.New("not enough data")
	}
	copy(p, q.buf)
	q.buf = q.buf[len(p):]
	return nil
}

// produce appends n bytes as if the session had captured them.
func (q *memQueue) produce(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, make([]byte, n)...)
}

func (q *memQueue) Writes() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.writes...)
}

// replyAt is an OK reply reporting state with both positions at frames.
func replyAt(state State, frames int64) Reply {
	pos := Position{Frames: frames, TimeNs: frames * 1000}
	return Reply{
		Status:     StatusOK,
		Observable: pos,
		Hardware:   pos,
		LatencyMs:  10,
		State:      state,
	}
}

// runLogic runs logic on a fresh worker and waits for it.
func runLogic(ctx context.Context, logic Logic) *Worker {
	w := NewWorker(logic)
	if !w.Start(ctx) {
		panic("worker did not start")
	}
	w.Join()
	return w
}
