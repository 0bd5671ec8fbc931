package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MinTerminalDimension is the smallest accepted row or column count.
	MinTerminalDimension = 1

	// MaxTerminalDimension is the largest accepted row or column count.
	MaxTerminalDimension = 1000

	DefaultRows    = 24
	DefaultColumns = 80
)

// TerminalSize is the size of a pseudo-terminal window.
type TerminalSize struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// NewTerminalSize returns a TerminalSize, rejecting values outside [1, 1000].
func NewTerminalSize(rows, columns int) (TerminalSize, error) {
	size := TerminalSize{Rows: rows, Columns: columns}
	if err := size.Validate(); err != nil {
		return TerminalSize{}, err
	}
	return size, nil
}

// DefaultTerminalSize returns the 24x80 default.
func DefaultTerminalSize() TerminalSize {
	return TerminalSize{Rows: DefaultRows, Columns: DefaultColumns}
}

// Validate checks the bounds of a size built without NewTerminalSize.
func (s TerminalSize) Validate() error {
	if s.Rows < MinTerminalDimension || s.Rows > MaxTerminalDimension {
		return fmt.Errorf("%w: rows %d out of range [%d, %d]", ErrInvalidTerminalSize, s.Rows, MinTerminalDimension, MaxTerminalDimension)
	}
	if s.Columns < MinTerminalDimension || s.Columns > MaxTerminalDimension {
		return fmt.Errorf("%w: columns %d out of range [%d, %d]", ErrInvalidTerminalSize, s.Columns, MinTerminalDimension, MaxTerminalDimension)
	}
	return nil
}

func (s TerminalSize) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Columns)
}

// ShellKind enumerates the supported ways of launching a session's process.
type ShellKind string

const (
	ShellUnix              ShellKind = "unix"
	ShellWindowsCmd        ShellKind = "cmd"
	ShellWindowsPowerShell ShellKind = "powershell"
	ShellCustom            ShellKind = "custom"
	ShellDirect            ShellKind = "direct"
	ShellAuto              ShellKind = "auto"
)

// ShellType selects the shell a session runs. Path is only meaningful for ShellCustom.
type ShellType struct {
	Kind ShellKind `json:"kind"`
	Path string    `json:"path,omitempty"`
}

// CustomShell returns a ShellType running the executable at path.
func CustomShell(path string) ShellType {
	return ShellType{Kind: ShellCustom, Path: path}
}

// ParseShellType parses "unix", "cmd", "powershell", "direct", "auto",
// "custom:<path>" or an absolute executable path. The empty string is auto.
func ParseShellType(s string) (ShellType, error) {
	s = strings.TrimSpace(s)
	switch ShellKind(strings.ToLower(s)) {
	case "":
		return ShellType{Kind: ShellAuto}, nil
	case ShellUnix, ShellWindowsCmd, ShellWindowsPowerShell, ShellDirect, ShellAuto:
		return ShellType{Kind: ShellKind(strings.ToLower(s))}, nil
	}

	if path, ok := strings.CutPrefix(s, string(ShellCustom)+":"); ok {
		if path == "" {
			return ShellType{}, fmt.Errorf("%w: custom shell requires a path", ErrInvalidShell)
		}
		return CustomShell(path), nil
	}
	if filepath.IsAbs(s) {
		return CustomShell(s), nil
	}
	return ShellType{}, fmt.Errorf("%w: %q", ErrInvalidShell, s)
}

// Validate checks that the shell kind is known and custom shells carry a path.
func (t ShellType) Validate() error {
	switch t.Kind {
	case ShellUnix, ShellWindowsCmd, ShellWindowsPowerShell, ShellDirect, ShellAuto:
		return nil
	case ShellCustom:
		if t.Path == "" {
			return fmt.Errorf("%w: custom shell requires a path", ErrInvalidShell)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidShell, t.Kind)
	}
}

func (t ShellType) String() string {
	if t.Kind == ShellCustom {
		return string(ShellCustom) + ":" + t.Path
	}
	return string(t.Kind)
}

// PtyConfiguration describes the process a session runs. It is fixed once the
// session starts, except for Size which follows Resize.
type PtyConfiguration struct {
	Shell            ShellType         `json:"shell"`
	Command          string            `json:"command,omitempty"`
	Args             []string          `json:"args,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	WorkingDirectory string            `json:"workingDirectory,omitempty"`
	Size             TerminalSize      `json:"size"`

	// SeparateStderr routes stderr through its own pipe and reader instead of
	// the terminal. Interactive shells lose their prompt when this is set.
	SeparateStderr bool `json:"separateStderr,omitempty"`
}

// Validate rejects configurations that must never reach the process factory.
func (c PtyConfiguration) Validate(maxCommandLength int) error {
	if err := c.Shell.Validate(); err != nil {
		return err
	}
	if err := c.Size.Validate(); err != nil {
		return err
	}

	commandLength := len(c.Command)
	for _, arg := range c.Args {
		commandLength += len(arg) + 1
	}
	if maxCommandLength > 0 && commandLength > maxCommandLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrCommandTooLong, commandLength, maxCommandLength)
	}
	if c.Shell.Kind == ShellDirect && strings.TrimSpace(c.Command) == "" {
		return ErrCommandRequired
	}

	for k, v := range c.Environment {
		if k == "" || strings.ContainsAny(k, "=\x00") || strings.ContainsRune(v, 0) {
			return fmt.Errorf("%w: %q", ErrInvalidEnvironment, k)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a running session's configuration.
func (c PtyConfiguration) Clone() PtyConfiguration {
	out := c
	if c.Args != nil {
		out.Args = append([]string(nil), c.Args...)
	}
	if c.Environment != nil {
		out.Environment = make(map[string]string, len(c.Environment))
		for k, v := range c.Environment {
			out.Environment[k] = v
		}
	}
	return out
}
