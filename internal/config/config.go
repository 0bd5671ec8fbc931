// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/session"
)

// Prefix is prepended to every environment variable, e.g. TERMGW_PORT.
const Prefix = "TERMGW"

// Settings holds all gateway configuration.
type Settings struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"./data/termgw.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Session defaults
	DefaultShell        string        `envconfig:"DEFAULT_SHELL" default:"auto"`
	DefaultRows         int           `envconfig:"DEFAULT_ROWS" default:"24"`
	DefaultColumns      int           `envconfig:"DEFAULT_COLUMNS" default:"80"`
	SessionTimeout      time.Duration `envconfig:"SESSION_TIMEOUT" default:"30m"`
	OutputBufferSize    int           `envconfig:"OUTPUT_BUFFER_SIZE" default:"10000"`
	TerminateGrace      time.Duration `envconfig:"TERMINATE_GRACE" default:"2s"`
	MaxSessionsPerOwner int           `envconfig:"MAX_SESSIONS_PER_OWNER" default:"10"`
	MaxCommandLength    int           `envconfig:"MAX_COMMAND_LENGTH" default:"4096"`
	RecordingDir        string        `envconfig:"RECORDING_DIR" default:""`

	// Housekeeping
	RetainTerminated time.Duration `envconfig:"RETAIN_TERMINATED" default:"5m"`
	ReapSchedule     string        `envconfig:"REAP_SCHEDULE" default:"@every 15s"`

	// Gateway
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// Load reads envFile (or ./.env when envFile is empty and the file exists)
// into the process environment, then decodes the settings.
func Load(envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	var errs []error

	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if _, err := model.ParseShellType(s.DefaultShell); err != nil {
		errs = append(errs, fmt.Errorf("default shell: %w", err))
	}
	if _, err := model.NewTerminalSize(s.DefaultRows, s.DefaultColumns); err != nil {
		errs = append(errs, fmt.Errorf("default size: %w", err))
	}
	if s.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("session timeout must not be negative"))
	}
	if s.OutputBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("output buffer size must be positive"))
	}
	if s.TerminateGrace <= 0 {
		errs = append(errs, fmt.Errorf("terminate grace must be positive"))
	}
	if s.MaxSessionsPerOwner < 0 {
		errs = append(errs, fmt.Errorf("max sessions per owner must not be negative"))
	}
	if s.MaxCommandLength <= 0 {
		errs = append(errs, fmt.Errorf("max command length must be positive"))
	}
	if s.RetainTerminated < 0 {
		errs = append(errs, fmt.Errorf("retain terminated must not be negative"))
	}
	switch strings.ToLower(s.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", s.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SessionDefaults converts the settings into session manager defaults.
// Validate must have passed.
func (s *Settings) SessionDefaults() session.Defaults {
	shell, _ := model.ParseShellType(s.DefaultShell)
	return session.Defaults{
		Shell:               shell,
		Size:                model.TerminalSize{Rows: s.DefaultRows, Columns: s.DefaultColumns},
		Timeout:             s.SessionTimeout,
		OutputBufferSize:    s.OutputBufferSize,
		MaxSessionsPerOwner: s.MaxSessionsPerOwner,
		MaxCommandLength:    s.MaxCommandLength,
		RecordingDir:        s.RecordingDir,
		RetainTerminated:    s.RetainTerminated,
	}
}

// OriginAllowed reports whether a WebSocket Origin header is accepted.
func (s *Settings) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
