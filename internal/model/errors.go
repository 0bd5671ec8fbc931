package model

import "errors"

var (
	// ErrInvalidSessionID is returned when a session id does not match the ses_<uuid> format.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrInvalidTerminalSize is returned when rows or columns fall outside [1, 1000].
	ErrInvalidTerminalSize = errors.New("invalid terminal size")

	// ErrCommandRequired is returned when a direct shell is requested without a command.
	ErrCommandRequired = errors.New("command is required")

	// ErrCommandTooLong is returned when the command exceeds the configured length limit.
	ErrCommandTooLong = errors.New("command too long")

	// ErrInvalidEnvironment is returned for environment keys that cannot be passed to a process.
	ErrInvalidEnvironment = errors.New("invalid environment variable")

	// ErrInvalidShell is returned when a shell type cannot be parsed or is incomplete.
	ErrInvalidShell = errors.New("invalid shell type")

	// ErrInvalidTimeout is returned for a negative session timeout.
	ErrInvalidTimeout = errors.New("invalid session timeout")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when registering a session id that is already live.
	ErrSessionExists = errors.New("session already exists")

	// ErrIllegalState is returned when an operation is not legal in the session's current status.
	ErrIllegalState = errors.New("illegal session state")

	// ErrForbidden is returned when access to a session owned by someone else is attempted.
	ErrForbidden = errors.New("forbidden")

	// ErrConcurrencyLimit is returned when the maximum number of concurrent sessions is reached.
	ErrConcurrencyLimit = errors.New("concurrent session limit exceeded")

	// ErrProcessSpawn is returned when the pseudo-terminal or the process could not be created.
	ErrProcessSpawn = errors.New("failed to spawn process")
)

// IsValidation reports whether err is a boundary validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSessionID) ||
		errors.Is(err, ErrInvalidTerminalSize) ||
		errors.Is(err, ErrCommandRequired) ||
		errors.Is(err, ErrCommandTooLong) ||
		errors.Is(err, ErrInvalidEnvironment) ||
		errors.Is(err, ErrInvalidShell) ||
		errors.Is(err, ErrInvalidTimeout)
}
