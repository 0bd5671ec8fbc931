// Package session implements the terminal session lifecycle: the session
// aggregate, its registry, expiry and the manager that ties them together.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/gateway/internal/buffer"
	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/logger"
	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/pty"
)

// Params holds what a Session is built from.
type Params struct {
	ID         string
	OwnerID    string
	Config     model.PtyConfiguration
	Timeout    time.Duration // zero disables expiry
	BufferSize int

	Factory   pty.Factory
	Publisher events.Publisher
	Recorder  *logger.Recorder // optional
	Logger    zerolog.Logger
	Now       func() time.Time // optional clock
}

// Session owns one terminal process and its output. States move
// created -> running -> terminated and never back.
type Session struct {
	id        string
	ownerID   string
	timeout   time.Duration
	factory   pty.Factory
	publisher events.Publisher
	recorder  *logger.Recorder
	log       zerolog.Logger
	now       func() time.Time

	mu             sync.Mutex
	cfg            model.PtyConfiguration
	status         model.SessionStatus
	proc           pty.Process
	createdAt      time.Time
	lastActivityAt time.Time
	expiresAt      time.Time
	terminatedAt   time.Time
	exitCode       *int
	reason         model.TerminationReason

	// inMu keeps concurrent inputs in order. The process write runs under
	// inMu only, never under mu, so Terminate is never stuck behind it.
	inMu sync.Mutex

	// outMu serializes moving output from the multiplexer into history.
	// Lock order: outMu before the multiplexer's lock.
	outMu   sync.Mutex
	mux     *buffer.Multiplexer
	history *buffer.RingBuffer
}

// New creates a session in the created state. Nothing is spawned until Start.
func New(p Params) *Session {
	if p.BufferSize <= 0 {
		p.BufferSize = buffer.DefaultCapacity
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	s := &Session{
		id:        p.ID,
		ownerID:   p.OwnerID,
		timeout:   p.Timeout,
		factory:   p.Factory,
		publisher: p.Publisher,
		recorder:  p.Recorder,
		log:       p.Logger.With().Str("session_id", p.ID).Logger(),
		now:       p.Now,
		cfg:       p.Config.Clone(),
		status:    model.SessionStatusCreated,
		mux:       buffer.NewMultiplexer(p.BufferSize),
		history:   buffer.NewRingBuffer(p.BufferSize),
	}
	s.createdAt = s.now()
	s.lastActivityAt = s.createdAt

	if s.recorder != nil {
		rec := s.recorder
		s.mux.SetTap(func(c model.Chunk) { rec.RecordOutput(c.Data) })
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OwnerID returns the owner the session was created for.
func (s *Session) OwnerID() string { return s.ownerID }

// Timeout returns the inactivity timeout; zero means the session never expires.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Status returns the current lifecycle state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start spawns the process. It is legal only once, from the created state.
// A spawn failure leaves the session terminated with process_error.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusCreated {
		return fmt.Errorf("%w: cannot start session %s in state %s", model.ErrIllegalState, s.id, s.status)
	}

	proc, err := s.factory.Create(ctx, s.cfg.Clone(), s.mux)
	if err != nil {
		s.terminateLocked(model.ReasonProcessError)
		s.log.Error().Err(err).Msg("failed to start process")
		if !errors.Is(err, model.ErrProcessSpawn) {
			err = fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
		}
		return err
	}

	now := s.now()
	s.proc = proc
	s.status = model.SessionStatusRunning
	s.lastActivityAt = now
	if s.timeout > 0 {
		s.expiresAt = now.Add(s.timeout)
	}

	s.log.Info().Int("pid", proc.PID()).Str("shell", s.cfg.Shell.String()).Msg("session started")
	s.publisher.Publish(events.Event{
		Type:      events.TypeSessionStarted,
		SessionID: s.id,
		OwnerID:   s.ownerID,
		At:        now,
	})
	return nil
}

// HandleInput forwards data to the process. Only the state check runs
// under the session lock; a write blocked on a full terminal input queue
// is released when Terminate closes the process.
func (s *Session) HandleInput(data []byte) error {
	s.inMu.Lock()
	defer s.inMu.Unlock()

	s.mu.Lock()
	if s.status != model.SessionStatusRunning {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: session %s is %s", model.ErrIllegalState, s.id, status)
	}
	proc := s.proc
	s.lastActivityAt = s.now()
	if s.recorder != nil {
		s.recorder.RecordInput(data)
	}
	s.mu.Unlock()

	return proc.WriteInput(data)
}

// Resize changes the terminal size of a running session.
func (s *Session) Resize(size model.TerminalSize) error {
	if err := size.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusRunning {
		return fmt.Errorf("%w: session %s is %s", model.ErrIllegalState, s.id, s.status)
	}
	if err := s.proc.Resize(size); err != nil {
		return fmt.Errorf("failed to resize session %s: %w", s.id, err)
	}
	s.cfg.Size = size
	s.lastActivityAt = s.now()
	if s.recorder != nil {
		s.recorder.RecordResize(size)
	}
	return nil
}

// ReadOutput returns the output produced since the previous read. The
// returned bytes are also kept in the session history.
func (s *Session) ReadOutput() []byte {
	s.outMu.Lock()
	delta := s.mux.Drain()
	s.history.Write(delta)
	s.outMu.Unlock()

	s.PollExit()
	return buffer.TrimPartialRune(delta)
}

// History returns the retained output, including anything not yet read.
func (s *Session) History() []byte {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	view := buffer.NewRingBuffer(s.history.Cap())
	view.Write(s.history.ReadAll())
	view.Write(s.mux.Peek())
	return buffer.TrimPartialRune(view.ReadAll())
}

// Attach registers a live subscription and returns the history it starts
// after. Every chunk lands in exactly one of the two.
func (s *Session) Attach() ([]byte, *buffer.Subscription) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	var history []byte
	sub := s.mux.Subscribe(func(pending []byte) {
		s.history.Write(pending)
		history = buffer.TrimPartialRune(s.history.ReadAll())
	})
	return history, sub
}

// Terminate ends the session. Only the first call has an effect; later
// calls return nil.
func (s *Session) Terminate(reason model.TerminationReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.SessionStatusTerminated {
		return nil
	}
	return s.terminateLocked(reason)
}

func (s *Session) terminateLocked(reason model.TerminationReason) error {
	var err error
	if s.proc != nil {
		if err = s.proc.Terminate(); err != nil {
			s.log.Warn().Err(err).Msg("process did not terminate cleanly")
		}
		s.exitCode = s.proc.ExitCode()
	}

	s.status = model.SessionStatusTerminated
	s.terminatedAt = s.now()
	s.reason = reason
	s.mux.Close()

	if s.recorder != nil {
		if rerr := s.recorder.Close(); rerr != nil {
			s.log.Warn().Err(rerr).Msg("failed to close recording")
		}
	}

	evt := s.log.Info().Str("reason", string(reason))
	if s.exitCode != nil {
		evt = evt.Int("exit_code", *s.exitCode)
	}
	evt.Msg("session terminated")

	s.publisher.Publish(events.Event{
		Type:      events.TypeSessionTerminated,
		SessionID: s.id,
		OwnerID:   s.ownerID,
		Reason:    reason,
		ExitCode:  s.exitCode,
		At:        s.terminatedAt,
	})
	return err
}

// IsAlive reports whether the session is running with a live process. A
// running session whose process has died is terminated with process_exited.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	if s.status != model.SessionStatusRunning {
		s.mu.Unlock()
		return false
	}
	alive := s.proc.IsAlive()
	if !alive {
		s.terminateLocked(model.ReasonProcessExited)
	}
	s.mu.Unlock()
	return alive
}

// PollExit notices a process that exited on its own and moves the session
// to terminated. Callers use it before reading status.
func (s *Session) PollExit() {
	_ = s.IsAlive()
}

// ArmExpiry pushes the expiry deadline to now plus the timeout.
func (s *Session) ArmExpiry(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 && s.status != model.SessionStatusTerminated {
		s.expiresAt = now.Add(s.timeout)
	}
	return s.expiresAt
}

// ExpiresAt returns the current deadline, zero when the session never expires.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Expired reports whether a running session has passed its deadline.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == model.SessionStatusRunning && s.timeout > 0 && now.After(s.expiresAt)
}

// TerminatedAt returns when the session terminated, zero while it is not.
func (s *Session) TerminatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminatedAt
}

// TerminationReason returns why the session ended, empty while it has not.
func (s *Session) TerminationReason() model.TerminationReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ExitCode returns the natural exit code, nil if unknown or killed.
func (s *Session) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Config returns a copy of the current terminal configuration.
func (s *Session) Config() model.PtyConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

// Info returns a snapshot suitable for serialization.
func (s *Session) Info() model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := model.SessionInfo{
		ID:                s.id,
		OwnerID:           s.ownerID,
		Status:            s.status,
		Shell:             s.cfg.Shell.String(),
		Command:           s.cfg.Command,
		Args:              append([]string(nil), s.cfg.Args...),
		WorkingDirectory:  s.cfg.WorkingDirectory,
		Size:              s.cfg.Size,
		CreatedAt:         s.createdAt,
		LastActivityAt:    s.lastActivityAt,
		TerminationReason: s.reason,
	}
	if s.proc != nil {
		pid := s.proc.PID()
		info.PID = &pid
	}
	if !s.expiresAt.IsZero() && s.status == model.SessionStatusRunning {
		t := s.expiresAt
		info.ExpiresAt = &t
	}
	if !s.terminatedAt.IsZero() {
		t := s.terminatedAt
		info.TerminatedAt = &t
	}
	if s.exitCode != nil {
		code := *s.exitCode
		info.ExitCode = &code
	}
	return info
}
