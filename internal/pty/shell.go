package pty

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// shellResolver turns a configuration into an argv. Its fields are seams for tests.
type shellResolver struct {
	goos   string
	getenv func(string) string
	exists func(string) bool
}

func defaultResolver() shellResolver {
	return shellResolver{
		goos:   runtime.GOOS,
		getenv: os.Getenv,
		exists: fileExists,
	}
}

// ResolveArgv returns the argv used to launch cfg on the current platform.
func ResolveArgv(cfg model.PtyConfiguration) ([]string, error) {
	return defaultResolver().resolve(cfg)
}

func (r shellResolver) resolve(cfg model.PtyConfiguration) ([]string, error) {
	if err := cfg.Shell.Validate(); err != nil {
		return nil, err
	}

	kind := cfg.Shell.Kind
	if kind == model.ShellAuto {
		if r.goos == "windows" {
			kind = model.ShellWindowsPowerShell
		} else {
			kind = model.ShellUnix
		}
	}

	hasCommand := strings.TrimSpace(cfg.Command) != ""

	switch kind {
	case model.ShellUnix:
		shell := r.unixShell()
		if !hasCommand {
			return []string{shell}, nil
		}
		return []string{shell, "-c", joinPosix(cfg.Command, cfg.Args)}, nil

	case model.ShellCustom:
		if !hasCommand {
			return []string{cfg.Shell.Path}, nil
		}
		return []string{cfg.Shell.Path, "-c", joinPosix(cfg.Command, cfg.Args)}, nil

	case model.ShellWindowsCmd:
		if !hasCommand {
			return []string{"cmd.exe"}, nil
		}
		return []string{"cmd.exe", "/C", joinWindows(cfg.Command, cfg.Args)}, nil

	case model.ShellWindowsPowerShell:
		if !hasCommand {
			return []string{"powershell.exe", "-NoLogo"}, nil
		}
		return []string{"powershell.exe", "-NoLogo", "-Command", joinWindows(cfg.Command, cfg.Args)}, nil

	case model.ShellDirect:
		if !hasCommand {
			return nil, model.ErrCommandRequired
		}
		parts := splitCommand(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: unparseable command %q", model.ErrCommandRequired, cfg.Command)
		}
		return append(parts, cfg.Args...), nil
	}

	return nil, fmt.Errorf("%w: %s", model.ErrInvalidShell, cfg.Shell)
}

func (r shellResolver) unixShell() string {
	if shell := r.getenv("SHELL"); shell != "" {
		return shell
	}
	if r.exists("/bin/bash") {
		return "/bin/bash"
	}
	return "/bin/sh"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// joinPosix appends args to command, single-quoting each so the shell sees them verbatim.
func joinPosix(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	var b strings.Builder
	b.WriteString(command)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString("'" + strings.ReplaceAll(a, "'", `'\''`) + "'")
	}
	return b.String()
}

func joinWindows(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	var b strings.Builder
	b.WriteString(command)
	for _, a := range args {
		b.WriteByte(' ')
		if a == "" || strings.ContainsAny(a, " \t\"") {
			b.WriteString(`"` + strings.ReplaceAll(a, `"`, `\"`) + `"`)
		} else {
			b.WriteString(a)
		}
	}
	return b.String()
}

// splitCommand splits a command string into command and arguments.
// This handles basic quoting (single and double quotes).
func splitCommand(cmd string) []string {
	var parts []string
	var current []rune
	inQuote := false
	quoted := false
	quoteChar := rune(0)

	for _, r := range cmd {
		switch {
		case r == '"' || r == '\'':
			if inQuote {
				if r == quoteChar {
					inQuote = false
					quoteChar = 0
				} else {
					current = append(current, r)
				}
			} else {
				inQuote = true
				quoted = true
				quoteChar = r
			}
		case r == ' ' || r == '\t':
			if inQuote {
				current = append(current, r)
			} else if len(current) > 0 || quoted {
				parts = append(parts, string(current))
				current = nil
				quoted = false
			}
		default:
			current = append(current, r)
		}
	}

	if len(current) > 0 || quoted {
		parts = append(parts, string(current))
	}

	return parts
}
