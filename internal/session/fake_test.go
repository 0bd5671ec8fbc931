package session

import (
	"context"
	"errors"
	"sync"

	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/pty"
)

// fakeProcess echoes input back to its sink, like a terminal in cooked mode.
type fakeProcess struct {
	mu             sync.Mutex
	sink           pty.OutputSink
	pid            int
	alive          bool
	exitCode       *int
	inputs         [][]byte
	sizes          []model.TerminalSize
	terminateCalls int
	exited         chan struct{}
}

func newFakeProcess(pid int, sink pty.OutputSink) *fakeProcess {
	return &fakeProcess{pid: pid, sink: sink, alive: true, exited: make(chan struct{})}
}

func (p *fakeProcess) WriteInput(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return nil
	}
	p.inputs = append(p.inputs, append([]byte(nil), data...))
	p.sink.Publish(model.StreamStdout, append([]byte(nil), data...))
	return nil
}

func (p *fakeProcess) Resize(size model.TerminalSize) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, size)
	return nil
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateCalls++
	p.markExitedLocked()
	return nil
}

// exit simulates the process ending on its own.
func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitCode = &code
	p.markExitedLocked()
}

func (p *fakeProcess) markExitedLocked() {
	if p.alive {
		p.alive = false
		close(p.exited)
	}
}

func (p *fakeProcess) WaitFor(ctx context.Context) (int, error) {
	select {
	case <-p.exited:
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return -1, nil
	}
	return *p.exitCode, nil
}

func (p *fakeProcess) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) inputCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

func (p *fakeProcess) terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminateCalls
}

type fakeFactory struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	configs []model.PtyConfiguration
	err     error
}

func (f *fakeFactory) Create(ctx context.Context, cfg model.PtyConfiguration, sink pty.OutputSink) (pty.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := newFakeProcess(1000+len(f.procs), sink)
	f.procs = append(f.procs, p)
	f.configs = append(f.configs, cfg)
	return p, nil
}

func (f *fakeFactory) last() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.procs) == 0 {
		return nil
	}
	return f.procs[len(f.procs)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

var errNoPty = errors.New("no pty available")

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
