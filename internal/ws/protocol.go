package ws

import (
	"encoding/json"
	"errors"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	// Client -> Server
	TypeCreateSession MessageType = "CREATE_SESSION"
	TypeTerminalInput MessageType = "TERMINAL_INPUT"
	TypeResize        MessageType = "RESIZE"
	TypeCloseSession  MessageType = "CLOSE_SESSION"
	TypePing          MessageType = "PING"

	// Server -> Client
	TypeSessionCreated    MessageType = "SESSION_CREATED"
	TypeTerminalOutput    MessageType = "TERMINAL_OUTPUT"
	TypeSessionTerminated MessageType = "SESSION_TERMINATED"
	TypeHistory           MessageType = "HISTORY"
	TypePong              MessageType = "PONG"
	TypeError             MessageType = "ERROR"
)

// Close codes in the application range.
const (
	CloseInvalidRequest = 4400
	CloseForbidden      = 4403
	CloseConflict       = 4409
	CloseLimitExceeded  = 4429
	CloseInternalError  = 4500
)

// Message is the JSON envelope for every text frame.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`

	// CREATE_SESSION
	Command          string            `json:"command,omitempty"`
	Args             []string          `json:"args,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Shell            string            `json:"shell,omitempty"`

	// TERMINAL_INPUT, TERMINAL_OUTPUT, HISTORY
	Input  string       `json:"input,omitempty"`
	Output string       `json:"output,omitempty"`
	Stream model.Stream `json:"stream,omitempty"`

	// CREATE_SESSION, RESIZE
	Rows    int `json:"rows,omitempty"`
	Columns int `json:"columns,omitempty"`

	// SESSION_TERMINATED
	Reason   model.TerminationReason `json:"reason,omitempty"`
	ExitCode *int                    `json:"exitCode,omitempty"`

	// ERROR
	Message string `json:"message,omitempty"`
}

var errNotEnvelope = errors.New("not a message envelope")

// parseMessage decodes a text frame. Frames that are not a JSON object with
// a type are reported as errNotEnvelope so they can be treated as raw input.
func parseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		return Message{}, errNotEnvelope
	}
	return msg, nil
}

// closeCodeFor maps a session error to the close code sent with it.
func closeCodeFor(err error) int {
	switch {
	case model.IsValidation(err):
		return CloseInvalidRequest
	case errors.Is(err, model.ErrForbidden):
		return CloseForbidden
	case errors.Is(err, model.ErrSessionExists):
		return CloseConflict
	case errors.Is(err, model.ErrConcurrencyLimit):
		return CloseLimitExceeded
	default:
		return CloseInternalError
	}
}
