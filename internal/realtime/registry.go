// Package realtime tracks live push connections and their room memberships.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"pollcast/internal/common"
	"pollcast/internal/router"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidRoom       = errors.New("invalid room")
	ErrRoomForbidden     = errors.New("room belongs to another identity")
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// RawFrame is a Frame whose data has not been decoded yet.
type RawFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one live client connection.
type Conn interface {
	ID() string
	Identity() common.Identity
	// Send queues a frame; it must not block on the network.
	Send(f Frame) error
	Close(code int, reason string)
}

type DisconnectReason int

const (
	DisconnectClient DisconnectReason = iota
	// DisconnectServer means the server dropped the connection and the
	// client is expected to reconnect on its own.
	DisconnectServer
)

func (r DisconnectReason) String() string {
	if r == DisconnectServer {
		return "server"
	}
	return "client"
}

type member struct {
	conn  Conn
	rooms map[string]struct{}
}

// Registry owns the connection and room tables. Membership only changes in
// response to the connection's own connect, join, leave and disconnect.
type Registry struct {
	validator common.TokenValidator
	logger    *slog.Logger

	mu      sync.RWMutex
	members map[string]*member
	rooms   map[string]map[string]Conn

	// held across a whole fan-out so each room sees dispatches in order
	dispatchMu sync.Mutex
}

func NewRegistry(validator common.TokenValidator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		validator: validator,
		logger:    logger.With("component", "registry"),
		members:   make(map[string]*member),
		rooms:     make(map[string]map[string]Conn),
	}
}

// Authenticate resolves a credential. Failures are *common.AuthError so the
// caller can tell a malformed credential from an expired or invalid one.
func (r *Registry) Authenticate(ctx context.Context, credential string) (common.Identity, error) {
	if err := ctx.Err(); err != nil {
		return common.Identity{}, err
	}
	identity, err := r.validator.Validate(credential)
	if err != nil {
		return common.Identity{}, err
	}
	return identity, nil
}

// OnConnect registers conn and joins it to its personal room before
// returning, so nothing addressed to the identity can be missed.
func (r *Registry) OnConnect(conn Conn) {
	personal := router.UserRoom(conn.Identity().UserID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[conn.ID()]; ok {
		return
	}
	r.members[conn.ID()] = &member{conn: conn, rooms: make(map[string]struct{})}
	r.join(conn, personal)

	r.logger.Info("connection registered", "conn_id", conn.ID(), "user_id", conn.Identity().UserID)
}

// JoinRoom is idempotent. Personal rooms of other identities are refused
// and membership is left unchanged.
func (r *Registry) JoinRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}

	family, id := router.ParseRoom(room)
	switch family {
	case router.RoomResource:
	case router.RoomUser:
		if id != m.conn.Identity().UserID {
			r.logger.Warn("cross-identity room join refused",
				"conn_id", connID, "user_id", m.conn.Identity().UserID, "room", room)
			return fmt.Errorf("%w: %s", ErrRoomForbidden, room)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}

	r.join(m.conn, room)
	return nil
}

// LeaveRoom is a no-op when conn is not a member. The personal room stays
// joined for the life of the connection.
func (r *Registry) LeaveRoom(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if room == router.UserRoom(m.conn.Identity().UserID) {
		return fmt.Errorf("%w: cannot leave personal room", ErrRoomForbidden)
	}
	r.leave(connID, m, room)
	return nil
}

// OnDisconnect drops conn from every room in one step.
func (r *Registry) OnDisconnect(connID string, reason DisconnectReason) {
	r.mu.Lock()
	m, ok := r.members[connID]
	if ok {
		for room := range m.rooms {
			r.leave(connID, m, room)
		}
		delete(r.members, connID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("connection removed", "conn_id", connID, "user_id", m.conn.Identity().UserID, "reason", reason.String())
	}
}

// Deliver sends event to every connection in room and returns how many
// accepted it. An empty room is a no-op; send failures are logged and
// skipped.
func (r *Registry) Deliver(room, event string, payload interface{}) int {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	targets := r.snapshot(room)
	if len(targets) == 0 {
		r.logger.Debug("delivery noop, room empty", "room", room, "event", event)
		return 0
	}

	frame := Frame{Event: event, Data: payload}
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			r.logger.Warn("delivery failed", "conn_id", conn.ID(), "room", room, "event", event, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Rooms lists conn's memberships, sorted.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Members lists the connection ids in room, sorted.
func (r *Registry) Members(room string) []string {
	targets := r.snapshot(room)
	ids := make([]string, 0, len(targets))
	for _, conn := range targets {
		ids = append(ids, conn.ID())
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Connections returns the live connections of one identity.
func (r *Registry) Connections(userID string) []Conn {
	return r.snapshot(router.UserRoom(userID))
}

// CloseAll force-closes every connection, e.g. on shutdown. Clients treat
// the close as involuntary and reconnect elsewhere.
func (r *Registry) CloseAll(reason string) int {
	conns := r.snapshot(router.BroadcastRoom)
	for _, conn := range conns {
		conn.Close(CloseServerForced, reason)
	}
	return len(conns)
}

func (r *Registry) snapshot(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room == router.BroadcastRoom {
		out := make([]Conn, 0, len(r.members))
		for _, m := range r.members {
			out = append(out, m.conn)
		}
		return out
	}
	conns := r.rooms[room]
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// join and leave expect r.mu held for writing.
func (r *Registry) join(conn Conn, room string) {
	m := r.members[conn.ID()]
	if _, ok := m.rooms[room]; ok {
		return
	}
	m.rooms[room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Conn)
	}
	r.rooms[room][conn.ID()] = conn
}

func (r *Registry) leave(connID string, m *member, room string) {
	if _, ok := m.rooms[room]; !ok {
		return
	}
	delete(m.rooms, room)
	delete(r.rooms[room], connID)
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	}
}
