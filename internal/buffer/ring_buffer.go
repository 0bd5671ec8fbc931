// Package buffer provides the bounded output buffer and the live output
// multiplexer used by terminal sessions.
package buffer

import (
	"sync"
)

// DefaultCapacity is the default number of bytes a session retains for replay.
const DefaultCapacity = 10000

// RingBuffer keeps the most recent bytes written to it, up to a fixed
// capacity. Its content is always a suffix of everything ever written.
// It is safe for concurrent use.
type RingBuffer struct {
	mu   sync.RWMutex
	buf  []byte // len(buf) is the capacity
	head int    // index of the oldest byte
	size int
}

// NewRingBuffer creates a RingBuffer holding at most capacity bytes.
// A capacity below 1 is raised to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
// It never fails and implements io.Writer.
func (rb *RingBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	c := len(rb.buf)
	if len(p) >= c {
		copy(rb.buf, p[len(p)-c:])
		rb.head, rb.size = 0, c
		return len(p), nil
	}

	tail := (rb.head + rb.size) % c
	written := copy(rb.buf[tail:], p)
	copy(rb.buf, p[written:])

	if over := rb.size + len(p) - c; over > 0 {
		rb.head = (rb.head + over) % c
		rb.size = c
	} else {
		rb.size += len(p)
	}
	return len(p), nil
}

// snapshot copies the content out in order. The caller holds the lock.
func (rb *RingBuffer) snapshot() []byte {
	if rb.size == 0 {
		return nil
	}
	out := make([]byte, rb.size)
	end := rb.head + rb.size
	if end > len(rb.buf) {
		end = len(rb.buf)
	}
	n := copy(out, rb.buf[rb.head:end])
	copy(out[n:], rb.buf[:rb.size-n])
	return out
}

// ReadAll returns a copy of the buffered bytes, oldest first, or nil when
// the buffer is empty.
func (rb *RingBuffer) ReadAll() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.snapshot()
}

// Drain is ReadAll followed by Clear, atomically.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := rb.snapshot()
	rb.head, rb.size = 0, 0
	return out
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	rb.head, rb.size = 0, 0
	rb.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.buf)
}
