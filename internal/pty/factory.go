package pty

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// DefaultTerm is exported to child processes that do not set TERM themselves.
const DefaultTerm = "xterm-256color"

// NativeFactory starts processes on OS pseudo-terminals.
type NativeFactory struct {
	grace    time.Duration
	log      zerolog.Logger
	resolver shellResolver
}

// NewNativeFactory creates a NativeFactory. A non-positive grace falls back to DefaultTerminateGrace.
func NewNativeFactory(grace time.Duration, log zerolog.Logger) *NativeFactory {
	if grace <= 0 {
		grace = DefaultTerminateGrace
	}
	return &NativeFactory{
		grace:    grace,
		log:      log.With().Str("component", "pty").Logger(),
		resolver: defaultResolver(),
	}
}

// Create resolves cfg into a command line and starts it. Any failure is
// returned wrapped in model.ErrProcessSpawn.
func (f *NativeFactory) Create(ctx context.Context, cfg model.PtyConfiguration, sink OutputSink) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
	}

	argv, err := f.resolver.resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
	}

	dir, err := prepareWorkingDirectory(cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
	}

	env := buildEnv(os.Environ(), cfg.Environment)

	proc, err := f.start(argv, env, dir, cfg, sink)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessSpawn, err)
	}

	f.log.Debug().
		Int("pid", proc.PID()).
		Strs("argv", argv).
		Str("dir", dir).
		Str("size", cfg.Size.String()).
		Msg("process started")
	return proc, nil
}

// buildEnv overlays overrides onto base. Later keys win, and TERM is added
// when neither side sets it.
func buildEnv(base []string, overrides map[string]string) []string {
	vars := make(map[string]string, len(base)+len(overrides)+1)
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	if _, ok := vars["TERM"]; !ok {
		vars["TERM"] = DefaultTerm
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// prepareWorkingDirectory expands a leading ~ and creates the directory if needed.
func prepareWorkingDirectory(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}

	if dir[0] == '~' && (len(dir) == 1 || dir[1] == '/') {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = home + dir[1:]
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", dir, err)
	}
	return dir, nil
}
