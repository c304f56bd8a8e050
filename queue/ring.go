package queue

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoSpace is returned when a write does not fit in the free space.
	ErrNoSpace = errors.New("not enough free space in data queue")

	// ErrNoData is returned when a read asks for more than is buffered.
	ErrNoData = errors.New("not enough data in data queue")
)

// Ring is a fixed-capacity byte queue shared by the two ends of a session.
// Reads and writes are all-or-nothing. It implements conform.DataQueue.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	head int
	n    int
}

// NewRing allocates a ring of size bytes.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]byte, size)}
}

// Capacity returns the ring size in bytes.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// AvailableToRead returns the number of buffered bytes.
func (r *Ring) AvailableToRead() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// AvailableToWrite returns the free space in bytes.
func (r *Ring) AvailableToWrite() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.n
}

// Write appends p, or nothing if p does not fit.
func (r *Ring) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) > len(r.buf)-r.n {
		return fmt.Errorf("%w: want %d, free %d", ErrNoSpace, len(p), len(r.buf)-r.n)
	}
	tail := (r.head + r.n) % max(len(r.buf), 1)
	c := copy(r.buf[tail:], p)
	copy(r.buf, p[c:])
	r.n += len(p)
	return nil
}

// Read fills p from the front of the ring, or reads nothing if fewer than
// len(p) bytes are buffered.
func (r *Ring) Read(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) > r.n {
		return fmt.Errorf("%w: want %d, have %d", ErrNoData, len(p), r.n)
	}
	c := copy(p, r.buf[r.head:min(r.head+len(p), len(r.buf))])
	copy(p[c:], r.buf)
	r.head = (r.head + len(p)) % max(len(r.buf), 1)
	r.n -= len(p)
	return nil
}

// Discard drops up to n buffered bytes and returns how many were dropped.
func (r *Ring) Discard(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n = min(max(n, 0), r.n)
	r.head = (r.head + n) % max(len(r.buf), 1)
	r.n -= n
	return n
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.n = 0, 0
}
