package session

import (
	"context"
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

// Defaults supplies the values used when a create request leaves them out.
type Defaults struct {
	Shell               model.ShellType
	Size                model.TerminalSize
	Timeout             time.Duration
	OutputBufferSize    int
	MaxSessionsPerOwner int
	MaxCommandLength    int
	RecordingDir        string
	RetainTerminated    time.Duration
}

// DefaultDefaults returns the built-in defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Shell:               model.ShellType{Kind: model.ShellAuto},
		Size:                model.DefaultTerminalSize(),
		Timeout:             30 * time.Minute,
		OutputBufferSize:    buffer.DefaultCapacity,
		MaxSessionsPerOwner: 10,
		MaxCommandLength:    4096,
		RetainTerminated:    5 * time.Minute,
	}
}

// CreateRequest describes a session to create.
type CreateRequest struct {
	SessionID        string // optional; generated when empty
	OwnerID          string
	Shell            string
	Command          string
	Args             []string
	WorkingDirectory string
	Env              map[string]string
	Rows             int
	Columns          int
	Timeout          *time.Duration // nil uses the default, zero disables expiry
	SeparateStderr   bool
}

// Manager creates sessions and routes operations to them by id.
type Manager struct {
	factory   pty.Factory
	publisher events.Publisher
	defaults  Defaults
	log       zerolog.Logger

	registry *Registry
	sweeper  *Sweeper

	// createMu makes the per-owner limit check and registration atomic.
	createMu sync.Mutex
}

// NewManager creates a manager. A nil publisher discards events.
func NewManager(factory pty.Factory, publisher events.Publisher, defaults Defaults, log zerolog.Logger) *Manager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if defaults.Size == (model.TerminalSize{}) {
		defaults.Size = model.DefaultTerminalSize()
	}
	if defaults.Shell.Kind == "" {
		defaults.Shell = model.ShellType{Kind: model.ShellAuto}
	}

	m := &Manager{
		factory:   factory,
		publisher: publisher,
		defaults:  defaults,
		log:       log.With().Str("component", "session-manager").Logger(),
		registry:  NewRegistry(),
	}
	m.sweeper = NewSweeper(m.expire, log)
	return m
}

// Defaults returns the manager's defaults.
func (m *Manager) Defaults() Defaults {
	return m.defaults
}

// Create validates req, registers a new session and starts its process.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = model.NewSessionID()
	} else if err := model.ValidateSessionID(id); err != nil {
		return nil, err
	}

	cfg, err := m.buildConfig(req)
	if err != nil {
		return nil, err
	}

	timeout := m.defaults.Timeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidTimeout, timeout)
	}

	m.createMu.Lock()
	if limit := m.defaults.MaxSessionsPerOwner; limit > 0 && m.activeCount(req.OwnerID) >= limit {
		m.createMu.Unlock()
		return nil, fmt.Errorf("%w: owner %s already has %d active sessions", model.ErrConcurrencyLimit, req.OwnerID, limit)
	}
	if _, exists := m.registry.Get(id); exists {
		m.createMu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrSessionExists, id)
	}

	var recorder *logger.Recorder
	if m.defaults.RecordingDir != "" {
		recorder, err = logger.NewRecorder(m.defaults.RecordingDir, id, cfg.Size, cfg.Command)
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", id).Msg("recording disabled for session")
			recorder = nil
		}
	}

	sess := New(Params{
		ID:         id,
		OwnerID:    req.OwnerID,
		Config:     cfg,
		Timeout:    timeout,
		BufferSize: m.defaults.OutputBufferSize,
		Factory:    m.factory,
		Publisher:  m.publisher,
		Recorder:   recorder,
		Logger:     m.log,
	})
	if err := m.registry.Add(sess); err != nil {
		m.createMu.Unlock()
		if recorder != nil {
			recorder.Close()
		}
		return nil, err
	}
	m.createMu.Unlock()

	m.publisher.Publish(events.Event{
		Type:      events.TypeSessionCreated,
		SessionID: id,
		OwnerID:   req.OwnerID,
	})

	if err := sess.Start(ctx); err != nil {
		m.registry.Remove(id)
		return nil, err
	}
	m.sweeper.Schedule(sess)

	return sess, nil
}

func (m *Manager) buildConfig(req CreateRequest) (model.PtyConfiguration, error) {
	shell := m.defaults.Shell
	if req.Shell != "" {
		parsed, err := model.ParseShellType(req.Shell)
		if err != nil {
			return model.PtyConfiguration{}, err
		}
		shell = parsed
	}

	size := m.defaults.Size
	if req.Rows != 0 || req.Columns != 0 {
		rows, cols := req.Rows, req.Columns
		if rows == 0 {
			rows = size.Rows
		}
		if cols == 0 {
			cols = size.Columns
		}
		s, err := model.NewTerminalSize(rows, cols)
		if err != nil {
			return model.PtyConfiguration{}, err
		}
		size = s
	}

	cfg := model.PtyConfiguration{
		Shell:            shell,
		Command:          req.Command,
		Args:             req.Args,
		Environment:      req.Env,
		WorkingDirectory: req.WorkingDirectory,
		Size:             size,
		SeparateStderr:   req.SeparateStderr,
	}
	if err := cfg.Validate(m.defaults.MaxCommandLength); err != nil {
		return model.PtyConfiguration{}, err
	}
	return cfg.Clone(), nil
}

func (m *Manager) activeCount(ownerID string) int {
	count := 0
	for _, s := range m.registry.ListByOwner(ownerID) {
		if s.Status() != model.SessionStatusTerminated {
			count++
		}
	}
	return count
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	if err := model.ValidateSessionID(id); err != nil {
		return nil, err
	}
	s, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return s, nil
}

// GetOwned returns the session only if ownerID owns it.
func (m *Manager) GetOwned(id, ownerID string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if s.OwnerID() != ownerID {
		return nil, fmt.Errorf("%w: session %s", model.ErrForbidden, id)
	}
	return s, nil
}

// List returns the sessions of ownerID, or every session when ownerID is empty.
func (m *Manager) List(ownerID string) []*Session {
	if ownerID == "" {
		return m.registry.List()
	}
	return m.registry.ListByOwner(ownerID)
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	return m.registry.Len()
}

// HandleInput writes data to the session and pushes its expiry back.
func (m *Manager) HandleInput(id string, data []byte) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.HandleInput(data); err != nil {
		return err
	}
	m.sweeper.Restart(s)
	return nil
}

// Resize changes the terminal size of a session.
func (m *Manager) Resize(id string, size model.TerminalSize) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Resize(size); err != nil {
		return err
	}
	m.sweeper.Restart(s)
	return nil
}

// ReadOutput returns the output a session produced since the previous read.
func (m *Manager) ReadOutput(id string) ([]byte, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.ReadOutput(), nil
}

// History returns the retained output of a session.
func (m *Manager) History(id string) ([]byte, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// Terminate ends a session. Terminating an already terminated session is a no-op.
func (m *Manager) Terminate(id string, reason model.TerminationReason) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.sweeper.Cancel(id)
	return s.Terminate(reason)
}

func (m *Manager) expire(s *Session) {
	if err := s.Terminate(model.ReasonTimeout); err != nil {
		m.log.Warn().Err(err).Str("session_id", s.ID()).Msg("failed to terminate expired session")
	}
}

// Reap polls liveness of every session and evicts those terminated before
// now minus the retention period. It returns the number evicted.
func (m *Manager) Reap(now time.Time) int {
	evicted := 0
	for _, s := range m.registry.List() {
		s.PollExit()
		if s.Status() != model.SessionStatusTerminated {
			continue
		}
		if now.Sub(s.TerminatedAt()) < m.defaults.RetainTerminated {
			continue
		}
		m.sweeper.Cancel(s.ID())
		if _, ok := m.registry.Remove(s.ID()); ok {
			evicted++
		}
	}
	return evicted
}

// Shutdown stops expiry and terminates every session with system_shutdown.
// It returns ctx.Err() if ctx ends before all processes are gone.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.sweeper.Shutdown()

	sessions := m.registry.Drain()
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Terminate(model.ReasonSystemShutdown); err != nil {
				m.log.Warn().Err(err).Str("session_id", s.ID()).Msg("failed to terminate session on shutdown")
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Int("sessions", len(sessions)).Msg("all sessions terminated")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted with sessions still terminating: %w", ctx.Err())
	}
}
