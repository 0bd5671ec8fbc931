package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTerminalSize(t *testing.T) {
	tests := []struct {
		name    string
		rows    int
		cols    int
		wantErr bool
	}{
		{"default", 24, 80, false},
		{"lower bound", 1, 1, false},
		{"upper bound", 1000, 1000, false},
		{"zero rows", 0, 80, true},
		{"zero columns", 24, 0, true},
		{"too many columns", 24, 1001, true},
		{"negative rows", -1, 80, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := NewTerminalSize(tt.rows, tt.cols)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTerminalSize))
				assert.Equal(t, TerminalSize{}, size)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rows, size.Rows)
			assert.Equal(t, tt.cols, size.Columns)
		})
	}
}

func TestDefaultTerminalSize(t *testing.T) {
	size := DefaultTerminalSize()
	assert.Equal(t, TerminalSize{Rows: 24, Columns: 80}, size)
	assert.NoError(t, size.Validate())
	assert.Equal(t, "24x80", size.String())
}

func TestParseShellType(t *testing.T) {
	tests := []struct {
		in      string
		want    ShellType
		wantErr bool
	}{
		{"", ShellType{Kind: ShellAuto}, false},
		{"unix", ShellType{Kind: ShellUnix}, false},
		{"CMD", ShellType{Kind: ShellWindowsCmd}, false},
		{"powershell", ShellType{Kind: ShellWindowsPowerShell}, false},
		{"direct", ShellType{Kind: ShellDirect}, false},
		{"auto", ShellType{Kind: ShellAuto}, false},
		{"custom:/bin/zsh", CustomShell("/bin/zsh"), false},
		{"/usr/bin/fish", CustomShell("/usr/bin/fish"), false},
		{"custom:", ShellType{}, true},
		{"fish", ShellType{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShellType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidShell)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPtyConfigurationValidate(t *testing.T) {
	base := PtyConfiguration{Shell: ShellType{Kind: ShellUnix}, Size: DefaultTerminalSize()}

	t.Run("valid interactive shell", func(t *testing.T) {
		assert.NoError(t, base.Validate(100))
	})

	t.Run("direct requires command", func(t *testing.T) {
		cfg := base
		cfg.Shell = ShellType{Kind: ShellDirect}
		assert.ErrorIs(t, cfg.Validate(100), ErrCommandRequired)
	})

	t.Run("oversized command", func(t *testing.T) {
		cfg := base
		cfg.Command = strings.Repeat("x", 101)
		assert.ErrorIs(t, cfg.Validate(100), ErrCommandTooLong)
	})

	t.Run("args count toward the limit", func(t *testing.T) {
		cfg := base
		cfg.Command = strings.Repeat("x", 90)
		cfg.Args = []string{strings.Repeat("y", 20)}
		assert.ErrorIs(t, cfg.Validate(100), ErrCommandTooLong)
	})

	t.Run("bad size", func(t *testing.T) {
		cfg := base
		cfg.Size = TerminalSize{Rows: 0, Columns: 80}
		assert.ErrorIs(t, cfg.Validate(100), ErrInvalidTerminalSize)
	})

	t.Run("bad env key", func(t *testing.T) {
		cfg := base
		cfg.Environment = map[string]string{"A=B": "c"}
		assert.ErrorIs(t, cfg.Validate(100), ErrInvalidEnvironment)
	})

	t.Run("custom without path", func(t *testing.T) {
		cfg := base
		cfg.Shell = ShellType{Kind: ShellCustom}
		assert.ErrorIs(t, cfg.Validate(100), ErrInvalidShell)
	})
}

func TestPtyConfigurationClone(t *testing.T) {
	cfg := PtyConfiguration{
		Args:        []string{"a"},
		Environment: map[string]string{"K": "V"},
	}
	clone := cfg.Clone()
	clone.Args[0] = "b"
	clone.Environment["K"] = "changed"

	assert.Equal(t, "a", cfg.Args[0])
	assert.Equal(t, "V", cfg.Environment["K"])
}

func TestSessionID(t *testing.T) {
	id := NewSessionID()
	assert.True(t, strings.HasPrefix(id, SessionIDPrefix))
	assert.NoError(t, ValidateSessionID(id))

	invalid := []string{
		"",
		"ses_",
		"abc",
		"ses_not-a-uuid",
		"SES_" + id[4:],
		"ses_{" + id[4:] + "}",
		id[4:],
	}
	for _, in := range invalid {
		assert.ErrorIs(t, ValidateSessionID(in), ErrInvalidSessionID, "input %q", in)
	}
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrCommandTooLong))
	assert.True(t, IsValidation(ValidateSessionID("x")))
	assert.False(t, IsValidation(ErrIllegalState))
	assert.False(t, IsValidation(nil))
}
