package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionIDPrefix prefixes every session id.
const SessionIDPrefix = "ses_"

// SessionStatus represents the status of a terminal session.
type SessionStatus string

const (
	SessionStatusCreated    SessionStatus = "created"
	SessionStatusRunning    SessionStatus = "running"
	SessionStatusTerminated SessionStatus = "terminated"
)

// TerminationReason records why a session reached SessionStatusTerminated.
type TerminationReason string

const (
	ReasonUserRequested  TerminationReason = "user_requested"
	ReasonTimeout        TerminationReason = "timeout"
	ReasonProcessExited  TerminationReason = "process_exited"
	ReasonProcessError   TerminationReason = "process_error"
	ReasonSystemShutdown TerminationReason = "system_shutdown"
)

// Stream identifies which process stream produced a chunk of output.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Chunk is one read from a process stream.
type Chunk struct {
	Stream Stream
	Data   []byte
}

// NewSessionID returns a fresh ses_<uuid> identifier.
func NewSessionID() string {
	return SessionIDPrefix + uuid.New().String()
}

// ValidateSessionID checks the ses_<uuid> format without any lookup.
func ValidateSessionID(id string) error {
	raw, ok := strings.CutPrefix(id, SessionIDPrefix)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	// uuid.Parse also accepts urn and braced forms; only the canonical one is an id.
	if len(raw) != 36 {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// SessionInfo is a point-in-time snapshot of a session, safe to serialize.
type SessionInfo struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"ownerId"`
	Status            SessionStatus     `json:"status"`
	Shell             string            `json:"shell"`
	Command           string            `json:"command,omitempty"`
	Args              []string          `json:"args,omitempty"`
	WorkingDirectory  string            `json:"workingDirectory,omitempty"`
	Size              TerminalSize      `json:"size"`
	PID               *int              `json:"pid,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	LastActivityAt    time.Time         `json:"lastActivityAt"`
	ExpiresAt         *time.Time        `json:"expiresAt,omitempty"`
	TerminatedAt      *time.Time        `json:"terminatedAt,omitempty"`
	ExitCode          *int              `json:"exitCode,omitempty"`
	TerminationReason TerminationReason `json:"terminationReason,omitempty"`
}

// Duration returns how long the session ran, or has been running so far.
func (s *SessionInfo) Duration() time.Duration {
	if s.TerminatedAt != nil {
		return s.TerminatedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}
