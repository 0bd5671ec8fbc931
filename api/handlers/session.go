// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/logger"
	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/session"
)

// EventLister reads back the recorded lifecycle events of a session.
type EventLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]events.Event, error)
}

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	sessionManager *session.Manager
	events         EventLister
}

// NewSessionHandler creates a new SessionHandler. eventLister may be nil,
// in which case the events endpoint returns an empty list.
func NewSessionHandler(sessionManager *session.Manager, eventLister EventLister) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
		events:         eventLister,
	}
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Shell            string            `json:"shell"`
	Command          string            `json:"command"`
	Args             []string          `json:"args"`
	WorkingDirectory string            `json:"workingDirectory"`
	Env              map[string]string `json:"env"`
	Rows             int               `json:"rows"`
	Columns          int               `json:"columns"`
	TimeoutSeconds   *int              `json:"timeoutSeconds"`
	SeparateStderr   bool              `json:"separateStderr"`
}

// InputRequest is the body of POST /api/sessions/:id/input.
type InputRequest struct {
	Input string `json:"input"`
}

// ResizeRequest is the body of POST /api/sessions/:id/resize.
type ResizeRequest struct {
	Rows    int `json:"rows" binding:"required"`
	Columns int `json:"columns" binding:"required"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	model.SessionInfo
	Duration string `json:"duration"`
}

// OutputResponse carries terminal output.
type OutputResponse struct {
	SessionID string `json:"sessionId"`
	Output    string `json:"output"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// toSessionResponse converts a session to SessionResponse.
func toSessionResponse(s *session.Session) *SessionResponse {
	info := s.Info()
	return &SessionResponse{
		SessionInfo: info,
		Duration:    formatDuration(info.Duration()),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendSessionError maps a session error to its status and error code.
func sendSessionError(c *gin.Context, err error) {
	switch {
	case model.IsValidation(err):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrForbidden):
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Access to session denied")
	case errors.Is(err, model.ErrIllegalState):
		sendError(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, model.ErrSessionExists):
		sendError(c, http.StatusConflict, "SESSION_EXISTS", err.Error())
	case errors.Is(err, model.ErrConcurrencyLimit):
		sendError(c, http.StatusTooManyRequests, "LIMIT_EXCEEDED", err.Error())
	case errors.Is(err, model.ErrProcessSpawn):
		sendError(c, http.StatusServiceUnavailable, "SPAWN_FAILED", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// owned resolves the :id parameter to a session of the caller, writing the
// error response when it cannot.
func (h *SessionHandler) owned(c *gin.Context) (*session.Session, bool) {
	sess, err := h.sessionManager.GetOwned(c.Param("id"), getUserID(c))
	if err != nil {
		sendSessionError(c, err)
		return nil, false
	}
	return sess, true
}

// Create handles POST /api/sessions - creates and starts a new session.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	createReq := session.CreateRequest{
		OwnerID:          getUserID(c),
		Shell:            req.Shell,
		Command:          req.Command,
		Args:             req.Args,
		WorkingDirectory: req.WorkingDirectory,
		Env:              req.Env,
		Rows:             req.Rows,
		Columns:          req.Columns,
		SeparateStderr:   req.SeparateStderr,
	}
	if req.TimeoutSeconds != nil {
		timeout := time.Duration(*req.TimeoutSeconds) * time.Second
		createReq.Timeout = &timeout
	}

	sess, err := h.sessionManager.Create(c.Request.Context(), createReq)
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// List handles GET /api/sessions - lists the caller's sessions.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.sessionManager.List(getUserID(c))

	response := make([]*SessionResponse, len(sessions))
	for i, sess := range sessions {
		// Surface processes that exited while nobody was polling.
		sess.PollExit()
		response[i] = toSessionResponse(sess)
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	sess.PollExit()
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Delete handles DELETE /api/sessions/:id - terminates a session.
func (h *SessionHandler) Delete(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	if err := h.sessionManager.Terminate(sess.ID(), model.ReasonUserRequested); err != nil {
		sendSessionError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Input handles POST /api/sessions/:id/input - writes to the terminal.
func (h *SessionHandler) Input(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.sessionManager.HandleInput(sess.ID(), []byte(req.Input)); err != nil {
		sendSessionError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Resize handles POST /api/sessions/:id/resize.
func (h *SessionHandler) Resize(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	size := model.TerminalSize{Rows: req.Rows, Columns: req.Columns}
	if err := h.sessionManager.Resize(sess.ID(), size); err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Output handles GET /api/sessions/:id/output - returns output produced
// since the previous read.
func (h *SessionHandler) Output(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	out, err := h.sessionManager.ReadOutput(sess.ID())
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, OutputResponse{SessionID: sess.ID(), Output: string(out)})
}

// History handles GET /api/sessions/:id/history - returns the retained output.
func (h *SessionHandler) History(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	out, err := h.sessionManager.History(sess.ID())
	if err != nil {
		sendSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, OutputResponse{SessionID: sess.ID(), Output: string(out)})
}

// Events handles GET /api/sessions/:id/events - lists lifecycle events.
func (h *SessionHandler) Events(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	if h.events == nil {
		c.JSON(http.StatusOK, []events.Event{})
		return
	}

	evts, err := h.events.ListBySession(c.Request.Context(), sess.ID())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, evts)
}

// Recording handles GET /api/sessions/:id/recording - downloads the
// asciinema recording of a session.
func (h *SessionHandler) Recording(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}

	dir := h.sessionManager.Defaults().RecordingDir
	if dir == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording is disabled")
		return
	}

	path := logger.CastPath(dir, sess.ID())
	if _, err := os.Stat(path); err != nil {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not found for session "+sess.ID())
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sess.ID()+".cast")
	c.File(path)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Delete)
		sessions.POST("/:id/input", h.Input)
		sessions.POST("/:id/resize", h.Resize)
		sessions.GET("/:id/output", h.Output)
		sessions.GET("/:id/history", h.History)
		sessions.GET("/:id/events", h.Events)
		sessions.GET("/:id/recording", h.Recording)
	}
}
