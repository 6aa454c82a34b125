package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Close codes sent by the server.
const (
	CloseServerForced     = 4000
	CloseAuthMalformed    = 4001
	CloseAuthExpired      = 4002
	CloseAuthInvalid      = 4003
	CloseHandshakeTimeout = 4004
)

// Client to server frame names.
const (
	FrameAuthenticate = "authenticate"
	FrameJoinRoom     = "joinRoom"
	FrameLeaveRoom    = "leaveRoom"
)

// Server to client control frame names.
const (
	FrameRoomJoined = "roomJoined"
	FrameRoomLeft   = "roomLeft"
	FrameError      = "error"
)

var ErrSlowConsumer = errors.New("connection send buffer full")

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CloseCodeFor maps an authentication failure to its close code.
func CloseCodeFor(err error) int {
	reason, _ := common.AuthReasonOf(err)
	switch reason {
	case common.AuthMalformed:
		return CloseAuthMalformed
	case common.AuthExpired:
		return CloseAuthExpired
	default:
		return CloseAuthInvalid
	}
}

// Handler upgrades HTTP requests to push connections. A credential in the
// Authorization header or the token query parameter is checked before the
// upgrade; without one the first frame must be an authenticate frame.
type Handler struct {
	registry *Registry
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(registry *Registry, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry: registry,
		cfg:      cfg.Realtime,
		logger:   logger.With("component", "ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential, ok := common.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		credential = r.URL.Query().Get("token")
	}

	var identity common.Identity
	if credential != "" {
		id, err := h.registry.Authenticate(r.Context(), credential)
		if err != nil {
			reason, _ := common.AuthReasonOf(err)
			h.logger.Info("handshake refused", "reason", reason, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   http.StatusText(http.StatusUnauthorized),
				"message": "invalid or expired token",
				"reason":  string(reason),
			})
			return
		}
		identity = id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if identity.UserID == "" {
		identity, err = h.handshake(r.Context(), ws)
		if err != nil {
			return
		}
	}

	conn := newWSConn(ws, identity, h.cfg, h.logger)
	h.registry.OnConnect(conn)
	go conn.writePump()

	if !identity.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(identity.ExpiresAt), func() {
			h.logger.Info("token expired mid-session", "conn_id", conn.ID(), "user_id", identity.UserID)
			conn.Close(CloseAuthExpired, "token expired")
		})
		defer expiry.Stop()
	}

	h.readPump(conn)

	reason := DisconnectClient
	if conn.closedByServer() {
		reason = DisconnectServer
	}
	h.registry.OnDisconnect(conn.ID(), reason)
	conn.shutdown()
}

// handshake waits for an authenticate frame. Any failure closes the socket
// without registering a session.
func (h *Handler) handshake(ctx context.Context, ws *websocket.Conn) (common.Identity, error) {
	deadline := time.Now().Add(h.cfg.HandshakeTimeout)
	_ = ws.SetReadDeadline(deadline)

	var frame RawFrame
	if err := ws.ReadJSON(&frame); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			closeWith(ws, CloseHandshakeTimeout, "authentication timeout", h.cfg.WriteWait)
		} else {
			closeWith(ws, CloseAuthMalformed, "expected authenticate frame", h.cfg.WriteWait)
		}
		return common.Identity{}, fmt.Errorf("handshake: %w", err)
	}

	var payload AuthenticatePayload
	if frame.Event != FrameAuthenticate || json.Unmarshal(frame.Data, &payload) != nil {
		closeWith(ws, CloseAuthMalformed, "expected authenticate frame", h.cfg.WriteWait)
		return common.Identity{}, errors.New("handshake: unexpected first frame")
	}

	hctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	identity, err := h.registry.Authenticate(hctx, payload.Token)
	if err != nil {
		reason, _ := common.AuthReasonOf(err)
		h.logger.Info("handshake refused", "reason", reason)
		closeWith(ws, CloseCodeFor(err), "authentication failed", h.cfg.WriteWait)
		return common.Identity{}, err
	}

	_ = ws.SetReadDeadline(time.Time{})
	return identity, nil
}

func (h *Handler) readPump(c *wsConn) {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		var frame RawFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closedByServer() {
				h.logger.Debug("connection read ended", "conn_id", c.ID(), "error", err)
			}
			return
		}
		h.handleFrame(c, frame)
	}
}

func (h *Handler) handleFrame(c *wsConn, frame RawFrame) {
	switch frame.Event {
	case FrameJoinRoom, FrameLeaveRoom:
		var payload RoomPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			_ = c.Send(Frame{Event: FrameError, Data: ErrorPayload{Code: "bad_request", Message: "room is required"}})
			return
		}

		var err error
		ack := FrameRoomJoined
		if frame.Event == FrameJoinRoom {
			err = h.registry.JoinRoom(c.ID(), payload.Room)
		} else {
			ack = FrameRoomLeft
			err = h.registry.LeaveRoom(c.ID(), payload.Room)
		}
		if err != nil {
			code := "bad_request"
			if errors.Is(err, ErrRoomForbidden) {
				code = "forbidden"
			}
			_ = c.Send(Frame{Event: FrameError, Data: ErrorPayload{Code: code, Message: err.Error()}})
			return
		}
		_ = c.Send(Frame{Event: ack, Data: payload})

	case FrameAuthenticate:
		// already authenticated

	default:
		_ = c.Send(Frame{Event: FrameError, Data: ErrorPayload{Code: "unknown_event", Message: frame.Event}})
	}
}

type wsConn struct {
	id       string
	identity common.Identity
	ws       *websocket.Conn
	cfg      config.RealtimeConfig
	logger   *slog.Logger

	send chan Frame
	done chan struct{}

	mu         sync.Mutex
	closed     bool
	serverSide bool
	closeCode  int
	closeText  string
}

var _ Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, identity common.Identity, cfg config.RealtimeConfig, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		send:     make(chan Frame, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *wsConn) ID() string                { return c.id }
func (c *wsConn) Identity() common.Identity { return c.identity }

// Send never blocks; a connection that cannot keep up is dropped.
func (c *wsConn) Send(f Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- f:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		c.Close(CloseServerForced, "send buffer full")
		return ErrSlowConsumer
	}
}

// Close marks the connection as closed by the server; the writer sends the
// close frame and tears the socket down.
func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.serverSide = true
	c.closeCode = code
	c.closeText = reason
	close(c.done)
}

func (c *wsConn) closedByServer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverSide
}

// shutdown runs after the reader exits and stops the writer.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
}

func (c *wsConn) pongWait() time.Duration {
	return c.cfg.PingInterval * 2
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				c.logger.Debug("write failed", "conn_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drain()
			c.mu.Lock()
			code, text, server := c.closeCode, c.closeText, c.serverSide
			c.mu.Unlock()
			if server {
				closeWith(c.ws, code, text, c.cfg.WriteWait)
			}
			return
		}
	}
}

// drain flushes frames queued before the close.
func (c *wsConn) drain() {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func closeWith(ws *websocket.Conn, code int, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	ws.Close()
}
