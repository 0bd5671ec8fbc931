package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/logger"
	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/pty"
	"github.com/remote-agent-terminal/gateway/internal/session"
)

type stubProcess struct {
	mu    sync.Mutex
	sink  pty.OutputSink
	alive bool
}

func (p *stubProcess) WriteInput(data []byte) error {
	p.sink.Publish(model.StreamStdout, append([]byte(nil), data...))
	return nil
}

func (p *stubProcess) Resize(model.TerminalSize) error { return nil }

func (p *stubProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	return nil
}

func (p *stubProcess) WaitFor(ctx context.Context) (int, error) { return -1, nil }
func (p *stubProcess) ExitCode() *int                           { return nil }
func (p *stubProcess) PID() int                                 { return 42 }

func (p *stubProcess) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

var errNoPty = errors.New("no pty available")

type stubFactory struct {
	err error
}

func (f *stubFactory) Create(ctx context.Context, cfg model.PtyConfiguration, sink pty.OutputSink) (pty.Process, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stubProcess{sink: sink, alive: true}, nil
}

type stubEvents struct {
	byID map[string][]events.Event
}

func (s *stubEvents) ListBySession(ctx context.Context, id string) ([]events.Event, error) {
	return s.byID[id], nil
}

func setupRouter(t *testing.T, factory pty.Factory, mutate func(*session.Defaults)) (*gin.Engine, *session.Manager, *stubEvents) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	defaults := session.DefaultDefaults()
	if mutate != nil {
		mutate(&defaults)
	}
	m := session.NewManager(factory, nil, defaults, zerolog.Nop())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	evts := &stubEvents{byID: map[string][]events.Event{}}
	r := gin.New()
	r.Use(OwnerMiddleware())
	RegisterOps(r, m, nil)
	NewSessionHandler(m, evts).RegisterRoutes(r.Group("/api"))
	return r, m, evts
}

func doRequest(r http.Handler, method, path, owner string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) SessionResponse {
	t.Helper()
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestSessionHandler_CreateAndGet(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)

	w := doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{Command: "top", Rows: 30, Columns: 100})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeSession(t, w)
	assert.Equal(t, "alice", created.OwnerID)
	assert.Equal(t, model.SessionStatusRunning, created.Status)
	assert.Equal(t, model.TerminalSize{Rows: 30, Columns: 100}, created.Size)
	assert.NotEmpty(t, created.Duration)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decodeSession(t, w).ID)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+created.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)
}

func TestSessionHandler_DefaultOwner(t *testing.T) {
	r, m, _ := setupRouter(t, &stubFactory{}, nil)

	w := doRequest(r, http.MethodPost, "/api/sessions", "", CreateSessionRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, m.List(defaultOwner), 1)
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		factory *stubFactory
		method  string
		path    string
		body    interface{}
		status  int
		code    string
	}{
		{"invalid size", &stubFactory{}, http.MethodPost, "/api/sessions", CreateSessionRequest{Rows: 5000, Columns: 80}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"direct without command", &stubFactory{}, http.MethodPost, "/api/sessions", CreateSessionRequest{Shell: "direct"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"spawn failure", &stubFactory{err: errNoPty}, http.MethodPost, "/api/sessions", CreateSessionRequest{}, http.StatusServiceUnavailable, "SPAWN_FAILED"},
		{"malformed id", &stubFactory{}, http.MethodGet, "/api/sessions/nope", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown id", &stubFactory{}, http.MethodGet, "/api/sessions/" + model.NewSessionID(), nil, http.StatusNotFound, "SESSION_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := setupRouter(t, tt.factory, nil)
			w := doRequest(r, tt.method, tt.path, "alice", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestSessionHandler_OwnerLimit(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, func(d *session.Defaults) { d.MaxSessionsPerOwner = 1 })

	require.Equal(t, http.StatusCreated, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{}).Code)
	w := doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", decodeError(t, w).Code)

	assert.Equal(t, http.StatusCreated, doRequest(r, http.MethodPost, "/api/sessions", "bob", CreateSessionRequest{}).Code)
}

func TestSessionHandler_InputOutputHistory(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)
	id := decodeSession(t, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})).ID

	w := doRequest(r, http.MethodPost, "/api/sessions/"+id+"/input", "alice", InputRequest{Input: "echo hi\n"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var out OutputResponse
	w = doRequest(r, http.MethodGet, "/api/sessions/"+id+"/output", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "echo hi\n", out.Output)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+id+"/output", "alice", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Empty(t, out.Output)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+id+"/history", "alice", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "echo hi\n", out.Output)
}

func TestSessionHandler_ResizeAndDelete(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)
	id := decodeSession(t, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})).ID

	w := doRequest(r, http.MethodPost, "/api/sessions/"+id+"/resize", "alice", ResizeRequest{Rows: 50, Columns: 160})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TerminalSize{Rows: 50, Columns: 160}, decodeSession(t, w).Size)

	w = doRequest(r, http.MethodPost, "/api/sessions/"+id+"/resize", "alice", ResizeRequest{Rows: 50, Columns: 2000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodDelete, "/api/sessions/"+id, "alice", nil).Code)
	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodDelete, "/api/sessions/"+id, "alice", nil).Code)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+id, "alice", nil)
	got := decodeSession(t, w)
	assert.Equal(t, model.SessionStatusTerminated, got.Status)
	assert.Equal(t, model.ReasonUserRequested, got.TerminationReason)

	w = doRequest(r, http.MethodPost, "/api/sessions/"+id+"/input", "alice", InputRequest{Input: "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", decodeError(t, w).Code)
}

func TestSessionHandler_List(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)
	doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})
	doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})
	doRequest(r, http.MethodPost, "/api/sessions", "bob", CreateSessionRequest{})

	var list []SessionResponse
	w := doRequest(r, http.MethodGet, "/api/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestSessionHandler_Events(t *testing.T) {
	r, _, evts := setupRouter(t, &stubFactory{}, nil)
	id := decodeSession(t, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})).ID
	evts.byID[id] = []events.Event{{Type: events.TypeSessionCreated, SessionID: id, OwnerID: "alice"}}

	var got []events.Event
	w := doRequest(r, http.MethodGet, "/api/sessions/"+id+"/events", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSessionCreated, got[0].Type)
}

func TestSessionHandler_Recording(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)
	id := decodeSession(t, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})).ID
	w := doRequest(r, http.MethodGet, "/api/sessions/"+id+"/recording", "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	dir := t.TempDir()
	r, _, _ = setupRouter(t, &stubFactory{}, func(d *session.Defaults) { d.RecordingDir = dir })
	id = decodeSession(t, doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})).ID
	require.Equal(t, http.StatusAccepted, doRequest(r, http.MethodPost, "/api/sessions/"+id+"/input", "alice", InputRequest{Input: "ls\n"}).Code)
	require.Equal(t, http.StatusNoContent, doRequest(r, http.MethodDelete, "/api/sessions/"+id, "alice", nil).Code)

	_, err := os.Stat(logger.CastPath(dir, id))
	require.NoError(t, err)

	w = doRequest(r, http.MethodGet, "/api/sessions/"+id+"/recording", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-asciicast", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"version":2`)
}

func TestHealth(t *testing.T) {
	r, _, _ := setupRouter(t, &stubFactory{}, nil)
	doRequest(r, http.MethodPost, "/api/sessions", "alice", CreateSessionRequest{})

	w := doRequest(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, w.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(func(origin string) bool { return origin == "https://ok.example" }))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ok.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ok.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
