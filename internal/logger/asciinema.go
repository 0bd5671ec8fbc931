package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/remote-agent-terminal/gateway/internal/model"
)

// Asciinema v2 event codes.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// AsciinemaHeader is the first line of an asciinema v2 recording.
type AsciinemaHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Command   string            `json:"command,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// AsciinemaEvent is one [time, code, data] line of a recording.
type AsciinemaEvent struct {
	TimeOffset float64
	EventType  string
	Data       string
}

// MarshalJSON encodes the event as a three-element array.
func (e AsciinemaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON decodes a three-element array.
func (e *AsciinemaEvent) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &e.TimeOffset); err != nil {
		return fmt.Errorf("invalid time offset: %w", err)
	}
	if err := json.Unmarshal(arr[1], &e.EventType); err != nil {
		return fmt.Errorf("invalid event type: %w", err)
	}
	if err := json.Unmarshal(arr[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder writes one session's terminal traffic as an asciinema v2 cast.
// After the first write error the recorder stops writing and Err reports it.
type Recorder struct {
	mu        sync.Mutex
	w         io.Writer
	file      *os.File
	startTime time.Time
	err       error
	closed    bool
}

// CastPath returns where the recording of sessionID lives under dir.
func CastPath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".cast")
}

// NewRecorder creates dir if needed and starts a recording for sessionID.
func NewRecorder(dir, sessionID string, size model.TerminalSize, command string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	file, err := os.Create(CastPath(dir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	r := &Recorder{w: file, file: file, startTime: time.Now()}
	if err := r.writeHeader(size, command); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewRecorderWithWriter records to w. The caller owns w.
func NewRecorderWithWriter(w io.Writer, size model.TerminalSize, command string) (*Recorder, error) {
	r := &Recorder{w: w, startTime: time.Now()}
	if err := r.writeHeader(size, command); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) writeHeader(size model.TerminalSize, command string) error {
	header := AsciinemaHeader{
		Version:   2,
		Width:     size.Columns,
		Height:    size.Rows,
		Timestamp: r.startTime.Unix(),
		Command:   command,
		Env:       map[string]string{"TERM": "xterm-256color"},
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// RecordOutput appends an output event.
func (r *Recorder) RecordOutput(data []byte) {
	r.record(EventOutput, string(data))
}

// RecordInput appends an input event.
func (r *Recorder) RecordInput(data []byte) {
	r.record(EventInput, string(data))
}

// RecordResize appends a resize event in COLSxROWS form.
func (r *Recorder) RecordResize(size model.TerminalSize) {
	r.record(EventResize, fmt.Sprintf("%dx%d", size.Columns, size.Rows))
}

func (r *Recorder) record(code, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.err != nil {
		return
	}

	line, err := json.Marshal(AsciinemaEvent{
		TimeOffset: time.Since(r.startTime).Seconds(),
		EventType:  code,
		Data:       data,
	})
	if err != nil {
		r.err = fmt.Errorf("failed to marshal event: %w", err)
		return
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		r.err = fmt.Errorf("failed to write event: %w", err)
	}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close finishes the recording. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
