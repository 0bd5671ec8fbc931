//go:build !windows

package pty

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

const (
	// inputSliceSize bounds one write to the master so a pending
	// termination is noticed between slices.
	inputSliceSize = 4096

	// closeJoinTimeout is how long readers get to return once their files
	// are closed, when the grace period is already used up.
	closeJoinTimeout = 100 * time.Millisecond
)

// NativeProcess is a process running on a Unix pseudo-terminal.
type NativeProcess struct {
	cmd    *exec.Cmd
	master *os.File
	stderr *os.File // read end of the stderr pipe, nil when stderr is the pty
	sink   OutputSink
	grace  time.Duration
	log    zerolog.Logger

	readers sync.WaitGroup
	exited  chan struct{}
	code    int
	waitErr error

	writeMu     sync.Mutex
	terminating atomic.Bool
	termOnce    sync.Once
	termErr     error
}

func (f *NativeFactory) start(argv, env []string, dir string, cfg model.PtyConfiguration, sink OutputSink) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = dir

	var stderrR, stderrW *os.File
	if cfg.SeparateStderr {
		var err error
		stderrR, stderrW, err = os.Pipe()
		if err != nil {
			return nil, err
		}
		cmd.Stderr = stderrW
	}

	// StartWithSize wires the unset std streams to the tty and sets Setsid/Setctty.
	master, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: uint16(cfg.Size.Rows),
		Cols: uint16(cfg.Size.Columns),
	})
	if stderrW != nil {
		stderrW.Close()
	}
	if err != nil {
		if stderrR != nil {
			stderrR.Close()
		}
		return nil, err
	}

	p := &NativeProcess{
		cmd:    cmd,
		master: master,
		stderr: stderrR,
		sink:   sink,
		grace:  f.grace,
		log:    f.log.With().Int("pid", cmd.Process.Pid).Logger(),
		exited: make(chan struct{}),
	}

	p.readers.Add(1)
	go p.readLoop(master, model.StreamStdout)
	if stderrR != nil {
		p.readers.Add(1)
		go p.readLoop(stderrR, model.StreamStderr)
	}
	go p.waitLoop()

	return p, nil
}

// readLoop copies output from r to the sink until EOF or the file is closed.
func (p *NativeProcess) readLoop(r io.Reader, stream model.Stream) {
	defer p.readers.Done()

	buf := make([]byte, DefaultReadBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.sink.Publish(stream, data)
		}
		if err != nil {
			// EIO is how Linux reports a pty master whose slave side has gone away.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
				p.log.Debug().Err(err).Str("stream", string(stream)).Msg("read loop ended")
			}
			return
		}
	}
}

// waitLoop reaps the process and records how it ended.
func (p *NativeProcess) waitLoop() {
	err := p.cmd.Wait()

	code := -1
	if state := p.cmd.ProcessState; state != nil {
		code = state.ExitCode()
		err = nil
	}
	p.code = code
	p.waitErr = err
	close(p.exited)

	p.log.Debug().Int("exit_code", code).Msg("process exited")
}

// WriteInput writes data to the pty master in slices. Input after
// termination started is dropped. A write blocked because the terminal is
// not reading fails once Terminate hangs up the group and closes the master;
// Terminate never waits for it.
func (p *NativeProcess) WriteInput(data []byte) error {
	if len(data) == 0 || p.terminating.Load() || !p.IsAlive() {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	for len(data) > 0 {
		if p.terminating.Load() {
			return nil
		}
		n := min(len(data), inputSliceSize)
		if _, err := p.master.Write(data[:n]); err != nil {
			if !p.terminating.Load() {
				p.log.Warn().Err(err).Int("bytes", len(data)).Msg("failed to write input")
			}
			return nil
		}
		data = data[n:]
	}
	return nil
}

// Resize changes the pty window size.
func (p *NativeProcess) Resize(size model.TerminalSize) error {
	if !p.IsAlive() || p.terminating.Load() {
		return nil
	}
	return creackpty.Setsize(p.master, &creackpty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Columns),
	})
}

// Terminate hangs up the process group, escalates to SIGKILL after half the
// grace period and closes the pty to release the readers.
func (p *NativeProcess) Terminate() error {
	p.termOnce.Do(func() {
		p.termErr = p.terminate()
	})
	return p.termErr
}

func (p *NativeProcess) terminate() error {
	p.terminating.Store(true)
	deadline := time.Now().Add(p.grace)

	if p.IsAlive() {
		p.signalGroup(unix.SIGHUP)
		if !p.waitExited(p.grace / 2) {
			p.signalGroup(unix.SIGKILL)
			if !p.waitExited(time.Until(deadline)) {
				p.log.Warn().Dur("grace", p.grace).Msg("process did not exit after SIGKILL")
			}
		}
	}

	// Once the process is gone the readers end on EIO or EOF by themselves
	// after the kernel buffers are drained. Closing first would lose the tail.
	// Only a background child still holding the tty keeps them blocked.
	drained := !p.IsAlive() && p.joinReaders(time.Until(deadline))

	var firstErr error
	if err := p.master.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		firstErr = err
	}
	if p.stderr != nil {
		if err := p.stderr.Close(); err != nil && !errors.Is(err, os.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}

	if !drained && !p.joinReaders(max(time.Until(deadline), closeJoinTimeout)) {
		p.log.Warn().Msg("reader goroutines did not finish within the grace period; leaking")
	}
	return firstErr
}

// joinReaders waits up to d for the reader goroutines to return.
func (p *NativeProcess) joinReaders(d time.Duration) bool {
	if d <= 0 {
		return false
	}
	joined := make(chan struct{})
	go func() {
		p.readers.Wait()
		close(joined)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-joined:
		return true
	case <-t.C:
		return false
	}
}

func (p *NativeProcess) signalGroup(sig unix.Signal) {
	pid := p.PID()
	// Setsid makes the child a group leader, so -pid addresses its whole group.
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		p.log.Warn().Err(err).Str("signal", sig.String()).Msg("failed to signal process group")
		if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			p.log.Warn().Err(err).Str("signal", sig.String()).Msg("failed to signal process")
		}
	}
}

func (p *NativeProcess) waitExited(d time.Duration) bool {
	if d <= 0 {
		return !p.IsAlive()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true
	case <-t.C:
		return false
	}
}

// WaitFor blocks until the process exits or ctx is done.
func (p *NativeProcess) WaitFor(ctx context.Context) (int, error) {
	select {
	case <-p.exited:
		return p.code, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ExitCode returns the exit code of a process that exited on its own.
func (p *NativeProcess) ExitCode() *int {
	select {
	case <-p.exited:
	default:
		return nil
	}
	if p.code < 0 {
		return nil
	}
	code := p.code
	return &code
}

// IsAlive reports whether the process has not been reaped yet.
func (p *NativeProcess) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// PID returns the process id.
func (p *NativeProcess) PID() int {
	return p.cmd.Process.Pid
}
