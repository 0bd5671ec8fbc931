package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/remote-agent-terminal/gateway/internal/buffer"
	"github.com/remote-agent-terminal/gateway/internal/model"
	"github.com/remote-agent-terminal/gateway/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// How often a bound connection checks that its process is still alive.
	livenessPeriod = time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Control replies queued from the read loop to the write loop.
	outboxSize = 64
)

// ConnectionObserver is told when connections open and close.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed() {}

// Options tune a Gateway. Zero values select the defaults.
type Options struct {
	CheckOrigin    func(r *http.Request) bool
	Observer       ConnectionObserver
	PingPeriod     time.Duration
	LivenessPeriod time.Duration
}

// Gateway serves WebSocket connections for terminal sessions.
type Gateway struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	observer ConnectionObserver
	log      zerolog.Logger

	pingPeriod     time.Duration
	livenessPeriod time.Duration
}

// NewGateway creates a Gateway routing to sessions of m.
func NewGateway(m *session.Manager, opts Options, log zerolog.Logger) *Gateway {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = pingPeriod
	}
	if opts.LivenessPeriod <= 0 {
		opts.LivenessPeriod = livenessPeriod
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Gateway{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		observer:       opts.Observer,
		log:            log.With().Str("component", "gateway").Logger(),
		pingPeriod:     opts.PingPeriod,
		livenessPeriod: opts.LivenessPeriod,
	}
}

// ServeSession binds the connection to sessionID, creating the session with
// defaults for ownerID if it does not exist.
func (g *Gateway) ServeSession(w http.ResponseWriter, r *http.Request, sessionID, ownerID string) {
	c, ok := g.accept(w, r, ownerID)
	if !ok {
		return
	}
	defer g.observer.ConnectionClosed()

	if err := model.ValidateSessionID(sessionID); err != nil {
		c.fail(err)
		return
	}

	sess, err := g.lookupOrCreate(r.Context(), sessionID, ownerID)
	if err != nil {
		c.fail(err)
		return
	}
	c.bind(sess)
}

// ServeControl accepts a connection whose first frame must be CREATE_SESSION.
func (g *Gateway) ServeControl(w http.ResponseWriter, r *http.Request, ownerID string) {
	c, ok := g.accept(w, r, ownerID)
	if !ok {
		return
	}
	defer g.observer.ConnectionClosed()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		c.log.Debug().Err(err).Msg("control channel closed before CREATE_SESSION")
		c.conn.Close()
		return
	}

	msg, perr := parseMessage(data)
	if mt != websocket.TextMessage || perr != nil || msg.Type != TypeCreateSession {
		c.closeWith(CloseInvalidRequest, "first message must be CREATE_SESSION")
		return
	}

	sess, err := g.manager.Create(r.Context(), session.CreateRequest{
		SessionID:        msg.SessionID,
		OwnerID:          ownerID,
		Shell:            msg.Shell,
		Command:          msg.Command,
		Args:             msg.Args,
		WorkingDirectory: msg.WorkingDirectory,
		Env:              msg.Env,
		Rows:             msg.Rows,
		Columns:          msg.Columns,
	})
	if err != nil {
		c.fail(err)
		return
	}
	c.bind(sess)
}

func (g *Gateway) accept(w http.ResponseWriter, r *http.Request, ownerID string) (*connection, bool) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil, false
	}
	g.observer.ConnectionOpened()

	return &connection{
		gateway: g,
		conn:    conn,
		outbox:  make(chan Message, outboxSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     g.log.With().Str("owner_id", ownerID).Str("remote", r.RemoteAddr).Logger(),
	}, true
}

func (g *Gateway) lookupOrCreate(ctx context.Context, sessionID, ownerID string) (*session.Session, error) {
	sess, err := g.manager.GetOwned(sessionID, ownerID)
	if !errors.Is(err, model.ErrSessionNotFound) {
		return sess, err
	}

	sess, err = g.manager.Create(ctx, session.CreateRequest{SessionID: sessionID, OwnerID: ownerID})
	if errors.Is(err, model.ErrSessionExists) {
		// Lost a race with another connection creating the same id.
		return g.manager.GetOwned(sessionID, ownerID)
	}
	return sess, err
}

// connection is one WebSocket bound to at most one session. The write loop
// is the only writer of data frames; the read loop hands replies to it
// through the outbox.
type connection struct {
	gateway *Gateway
	conn    *websocket.Conn
	outbox  chan Message
	quit    chan struct{} // closed when the read loop exits
	stopped chan struct{} // closed when the write loop exits
	log     zerolog.Logger
}

func (c *connection) write(msg Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// closeWith sends a close frame and closes the connection.
func (c *connection) closeWith(code int, text string) {
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline); err != nil {
		c.log.Debug().Err(err).Msg("failed to send close frame")
	}
	c.conn.Close()
}

// fail reports err to a connection that could not be bound and closes it.
func (c *connection) fail(err error) {
	code := closeCodeFor(err)
	c.log.Info().Err(err).Int("close_code", code).Msg("rejecting connection")
	if code != CloseForbidden {
		c.write(Message{Type: TypeError, Message: err.Error()})
	}
	c.closeWith(code, http.StatusText(httpStatusFor(code)))
}

func httpStatusFor(code int) int {
	return code - 4000
}

// bind runs the session protocol until either side ends it.
func (c *connection) bind(sess *session.Session) {
	c.log = c.log.With().Str("session_id", sess.ID()).Logger()

	history, sub := sess.Attach()
	defer sub.Close()

	if err := c.write(Message{Type: TypeSessionCreated, SessionID: sess.ID()}); err != nil {
		c.conn.Close()
		return
	}
	if len(history) > 0 {
		if err := c.write(Message{Type: TypeHistory, SessionID: sess.ID(), Output: string(history)}); err != nil {
			c.conn.Close()
			return
		}
	}
	c.log.Debug().Int("history_bytes", len(history)).Msg("connection bound")

	go func() {
		defer close(c.stopped)
		c.writeLoop(sess, sub)
	}()

	c.readLoop(sess)
	close(c.quit)
	<-c.stopped
}

func (c *connection) readLoop(sess *session.Session) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch mt {
		case websocket.BinaryMessage:
			c.input(sess, data)
		case websocket.TextMessage:
			msg, err := parseMessage(data)
			if err != nil {
				c.input(sess, data)
				continue
			}
			c.dispatch(sess, msg)
		}
	}
}

func (c *connection) dispatch(sess *session.Session, msg Message) {
	if msg.SessionID != "" && msg.SessionID != sess.ID() {
		c.reply(Message{Type: TypeError, Message: "message addressed to another session"})
		return
	}

	m := c.gateway.manager
	switch msg.Type {
	case TypeTerminalInput:
		c.input(sess, []byte(msg.Input))

	case TypeResize:
		if err := m.Resize(sess.ID(), model.TerminalSize{Rows: msg.Rows, Columns: msg.Columns}); err != nil {
			c.reply(Message{Type: TypeError, SessionID: sess.ID(), Message: err.Error()})
		}

	case TypeCloseSession:
		if err := m.Terminate(sess.ID(), model.ReasonUserRequested); err != nil {
			c.reply(Message{Type: TypeError, SessionID: sess.ID(), Message: err.Error()})
		}

	case TypePing:
		c.reply(Message{Type: TypePong})

	case TypeCreateSession:
		c.reply(Message{Type: TypeError, SessionID: sess.ID(), Message: "connection is already bound to a session"})

	default:
		c.reply(Message{Type: TypeError, Message: "unknown message type " + string(msg.Type)})
	}
}

func (c *connection) input(sess *session.Session, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := c.gateway.manager.HandleInput(sess.ID(), data); err != nil {
		c.reply(Message{Type: TypeError, SessionID: sess.ID(), Message: err.Error()})
	}
}

// reply queues msg for the write loop, giving up if the writer has exited.
func (c *connection) reply(msg Message) {
	select {
	case c.outbox <- msg:
	case <-c.stopped:
	}
}

func (c *connection) writeLoop(sess *session.Session, sub *buffer.Subscription) {
	ping := time.NewTicker(c.gateway.pingPeriod)
	liveness := time.NewTicker(c.gateway.livenessPeriod)
	defer func() {
		ping.Stop()
		liveness.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-sub.Ready():
			if !c.flush(sess, sub) {
				return
			}

		case <-sub.Done():
			if c.flush(sess, sub) {
				c.terminated(sess)
			}
			return

		case msg := <-c.outbox:
			if err := c.write(msg); err != nil {
				return
			}

		case <-liveness.C:
			if !sess.IsAlive() {
				// Terminate closed the subscription; the next pass sees Done.
				continue
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			return
		}
	}
}

// flush sends every queued chunk in order.
func (c *connection) flush(sess *session.Session, sub *buffer.Subscription) bool {
	for {
		chunk, ok := sub.Pop()
		if !ok {
			return true
		}
		msg := Message{
			Type:      TypeTerminalOutput,
			SessionID: sess.ID(),
			Output:    string(chunk.Data),
			Stream:    chunk.Stream,
		}
		if err := c.write(msg); err != nil {
			return false
		}
	}
}

func (c *connection) terminated(sess *session.Session) {
	info := sess.Info()
	if err := c.write(Message{
		Type:      TypeSessionTerminated,
		SessionID: sess.ID(),
		Reason:    info.TerminationReason,
		ExitCode:  info.ExitCode,
	}); err != nil {
		return
	}
	c.closeWith(websocket.CloseNormalClosure, "session terminated")
}
