// Package pty spawns shell processes on pseudo-terminals and exposes them
// through the Process contract used by terminal sessions.
package pty

import (
	"context"
	"errors"
	"time"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

const (
	// DefaultReadBufferSize is the buffer size for reading process output.
	DefaultReadBufferSize = 4096

	// DefaultTerminateGrace bounds how long Terminate waits for the process
	// to exit and for the reader goroutines to join.
	DefaultTerminateGrace = 2 * time.Second
)

// ErrUnsupportedPlatform is returned by the native factory where no pty backend exists.
var ErrUnsupportedPlatform = errors.New("pseudo-terminals are not supported on this platform")

// OutputSink receives process output from the reader goroutines. Each call
// passes a slice the sink may keep. Publish must not block for long: it runs
// on the reader goroutine of its stream.
type OutputSink interface {
	Publish(stream model.Stream, data []byte)
}

// Process is a running terminal process. A Process is owned by exactly one
// session and is never shared.
type Process interface {
	// WriteInput writes to the process input. I/O failures are logged by the
	// implementation rather than returned; they surface through IsAlive.
	WriteInput(data []byte) error

	// Resize changes the terminal window size. It is a no-op once the process has exited.
	Resize(size model.TerminalSize) error

	// Terminate destroys the process and joins its readers, bounded by the
	// grace timeout. It is safe to call more than once.
	Terminate() error

	// WaitFor blocks until the process exits and returns its exit code,
	// or -1 when it was killed by a signal.
	WaitFor(ctx context.Context) (int, error)

	// ExitCode returns the natural exit code, or nil while running or when
	// the process was killed before it could exit.
	ExitCode() *int

	// IsAlive reflects OS process liveness, which can briefly disagree with
	// the owning session's status during shutdown.
	IsAlive() bool

	// PID returns the OS process id.
	PID() int
}

// Factory creates started processes. It is the single place where native
// resources are allocated.
type Factory interface {
	Create(ctx context.Context, cfg model.PtyConfiguration, sink OutputSink) (Process, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg model.PtyConfiguration, sink OutputSink) (Process, error)

// Create calls f.
func (f FactoryFunc) Create(ctx context.Context, cfg model.PtyConfiguration, sink OutputSink) (Process, error) {
	return f(ctx, cfg, sink)
}
