package buffer

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// ErrSubscriptionClosed is returned by Next once a subscription is closed and drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Multiplexer fans process output in from the reader goroutines and out to
// a bounded pending buffer for polling consumers and to every live
// subscription. Live subscriptions are unbounded: nothing is dropped there.
//
// Chunks always end on a UTF-8 rune boundary: an incomplete trailing rune
// is held back per stream and prefixed to the next chunk of that stream.
type Multiplexer struct {
	mu      sync.Mutex
	pending *RingBuffer
	subs    map[*Subscription]struct{}
	tap     func(model.Chunk)
	carry   map[model.Stream][]byte
	closed  bool
}

// NewMultiplexer creates a Multiplexer whose pending buffer holds capacity bytes.
func NewMultiplexer(capacity int) *Multiplexer {
	return &Multiplexer{
		pending: NewRingBuffer(capacity),
		subs:    make(map[*Subscription]struct{}),
		carry:   make(map[model.Stream][]byte),
	}
}

// SetTap registers fn to observe every published chunk, e.g. a session recorder.
// fn runs under the multiplexer lock and must not block.
func (m *Multiplexer) SetTap(fn func(model.Chunk)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = fn
}

// Publish records one chunk from stream. Chunks published after Close are ignored.
func (m *Multiplexer) Publish(stream model.Stream, data []byte) {
	if len(data) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if held := m.carry[stream]; len(held) > 0 {
		data = append(held, data...)
	}
	data, tail := SplitPartialRune(data)
	if len(tail) > 0 {
		m.carry[stream] = append([]byte(nil), tail...)
	} else {
		delete(m.carry, stream)
	}
	m.emit(model.Chunk{Stream: stream, Data: data})
}

// emit delivers one chunk everywhere. The caller holds mu.
func (m *Multiplexer) emit(chunk model.Chunk) {
	if len(chunk.Data) == 0 {
		return
	}
	m.pending.Write(chunk.Data)
	if m.tap != nil {
		m.tap(chunk)
	}
	for sub := range m.subs {
		sub.push(chunk)
	}
}

// Drain returns the output published since the previous Drain.
func (m *Multiplexer) Drain() []byte {
	return m.pending.Drain()
}

// Peek returns the pending output without consuming it.
func (m *Multiplexer) Peek() []byte {
	return m.pending.ReadAll()
}

// Subscribe registers a live subscription. If onAttach is non-nil it receives
// the drained pending output before the subscription starts receiving, all
// under the publish lock, so no chunk is seen twice or missed.
func (m *Multiplexer) Subscribe(onAttach func(pending []byte)) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := newSubscription(m)
	if onAttach != nil {
		onAttach(m.pending.Drain())
	}
	if m.closed {
		sub.close()
		return sub
	}
	m.subs[sub] = struct{}{}
	return sub
}

// SubscriberCount returns the number of live subscriptions.
func (m *Multiplexer) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close flushes any held-back bytes and closes every subscription. Queued
// chunks remain readable.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	for _, stream := range []model.Stream{model.StreamStdout, model.StreamStderr} {
		if held := m.carry[stream]; len(held) > 0 {
			m.emit(model.Chunk{Stream: stream, Data: held})
		}
	}
	m.carry = nil
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[*Subscription]struct{})
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// IsClosed reports whether Close has been called.
func (m *Multiplexer) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Multiplexer) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
}

// Subscription is one consumer's ordered view of a multiplexer's output.
type Subscription struct {
	mux    *Multiplexer
	mu     sync.Mutex
	items  *queue.Queue
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func newSubscription(m *Multiplexer) *Subscription {
	return &Subscription{
		mux:    m,
		items:  queue.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) push(chunk model.Chunk) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.items.Add(chunk)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever chunks may be available. Drain with Pop after each signal.
func (s *Subscription) Ready() <-chan struct{} {
	return s.notify
}

// Done is closed when the subscription is closed, by either side.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Pop removes the oldest queued chunk.
func (s *Subscription) Pop() (model.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items.Length() == 0 {
		return model.Chunk{}, false
	}
	return s.items.Remove().(model.Chunk), true
}

// Len returns the number of queued chunks.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Length()
}

// Next blocks until a chunk is available, the subscription is closed and
// drained, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (model.Chunk, error) {
	for {
		if chunk, ok := s.Pop(); ok {
			return chunk, nil
		}
		select {
		case <-s.notify:
		case <-s.done:
			if chunk, ok := s.Pop(); ok {
				return chunk, nil
			}
			return model.Chunk{}, ErrSubscriptionClosed
		case <-ctx.Done():
			return model.Chunk{}, ctx.Err()
		}
	}
}

// Close detaches the subscription from its multiplexer.
func (s *Subscription) Close() {
	s.mux.unsubscribe(s)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
