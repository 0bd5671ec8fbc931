package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, s.Port)
	assert.Equal(t, 30*time.Minute, s.SessionTimeout)
	assert.Equal(t, 2*time.Second, s.TerminateGrace)
	assert.Equal(t, "@every 15s", s.ReapSchedule)
	assert.Equal(t, []string{"*"}, s.AllowedOrigins)

	d := s.SessionDefaults()
	assert.Equal(t, model.ShellAuto, d.Shell.Kind)
	assert.Equal(t, model.DefaultTerminalSize(), d.Size)
	assert.Equal(t, 10000, d.OutputBufferSize)
	assert.Equal(t, 10, d.MaxSessionsPerOwner)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TERMGW_PORT", "9090")
	t.Setenv("TERMGW_SESSION_TIMEOUT", "90s")
	t.Setenv("TERMGW_DEFAULT_SHELL", "custom:/bin/zsh")
	t.Setenv("TERMGW_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, s.Port)
	assert.Equal(t, 90*time.Second, s.SessionTimeout)
	assert.Equal(t, model.CustomShell("/bin/zsh"), s.SessionDefaults().Shell)
	assert.True(t, s.OriginAllowed("https://b.example"))
	assert.False(t, s.OriginAllowed("https://evil.example"))
	assert.True(t, s.OriginAllowed(""))
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TERMGW_MAX_SESSIONS_PER_OWNER=3\n"), 0644))
	t.Setenv("TERMGW_MAX_SESSIONS_PER_OWNER", "")
	os.Unsetenv("TERMGW_MAX_SESSIONS_PER_OWNER")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxSessionsPerOwner)
}

func TestLoad_MissingExplicitEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Settings {
		return Settings{
			Port:                8080,
			LogFormat:           "json",
			DefaultShell:        "auto",
			DefaultRows:         24,
			DefaultColumns:      80,
			OutputBufferSize:    100,
			TerminateGrace:      time.Second,
			MaxCommandLength:    100,
			MaxSessionsPerOwner: 1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"valid", func(*Settings) {}, true},
		{"bad port", func(s *Settings) { s.Port = 70000 }, false},
		{"bad shell", func(s *Settings) { s.DefaultShell = "tcsh" }, false},
		{"bad rows", func(s *Settings) { s.DefaultRows = 0 }, false},
		{"negative timeout", func(s *Settings) { s.SessionTimeout = -time.Second }, false},
		{"zero buffer", func(s *Settings) { s.OutputBufferSize = 0 }, false},
		{"zero grace", func(s *Settings) { s.TerminateGrace = 0 }, false},
		{"bad log format", func(s *Settings) { s.LogFormat = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
