// Package events carries session lifecycle notifications to best-effort
// sinks such as the event history table and the metrics registry.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// Type names a lifecycle event.
type Type string

const (
	TypeSessionCreated    Type = "session.created"
	TypeSessionStarted    Type = "session.started"
	TypeSessionTerminated Type = "session.terminated"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type                    `json:"type"`
	SessionID string                  `json:"sessionId"`
	OwnerID   string                  `json:"ownerId"`
	Reason    model.TerminationReason `json:"reason,omitempty"`
	ExitCode  *int                    `json:"exitCode,omitempty"`
	At        time.Time               `json:"at"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(evt Event)
}

// Sink consumes events delivered by a Dispatcher.
type Sink interface {
	Handle(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, evt Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

// DefaultQueueSize is the dispatcher backlog used when none is given.
const DefaultQueueSize = 1024

// Dispatcher delivers events to its sinks on a single goroutine, in publish
// order. When the backlog is full new events are dropped with a warning.
type Dispatcher struct {
	sinks []Sink
	queue chan Event
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher delivering to sinks.
func NewDispatcher(log zerolog.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, queueSize),
		log:   log.With().Str("component", "events").Logger(),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues evt. It never blocks.
func (d *Dispatcher) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.log.Warn().Str("type", string(evt.Type)).Str("session_id", evt.SessionID).Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		for _, sink := range d.sinks {
			if err := sink.Handle(context.Background(), evt); err != nil {
				d.log.Warn().Err(err).Str("type", string(evt.Type)).Str("session_id", evt.SessionID).Msg("event sink failed")
			}
		}
	}
}

// Close stops accepting events and waits until the backlog is delivered or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
