package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"pollcast/internal/common"
	"pollcast/internal/realtime"
	"pollcast/internal/router"
)

// DefaultFetchLimit matches the server's largest page.
const DefaultFetchLimit = 200

// Session keeps a Mirror current over one socket and the REST API. Every
// connect, first or not, is followed by exactly one full fetch.
type Session struct {
	api    *API
	socket *Socket
	mirror *Mirror
	logger *slog.Logger

	FetchLimit int
	// OnEvent sees every frame after the mirror has merged it.
	OnEvent func(frame realtime.RawFrame)

	mu      sync.Mutex
	watched map[string]struct{}
}

func NewSession(api *API, socket *Socket, mirror *Mirror, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:        api,
		socket:     socket,
		mirror:     mirror,
		logger:     logger.With("component", "session"),
		FetchLimit: DefaultFetchLimit,
		watched:    make(map[string]struct{}),
	}
}

func (s *Session) Mirror() *Mirror {
	return s.mirror
}

// Run blocks like Socket.Run.
func (s *Session) Run(ctx context.Context) error {
	return s.socket.Run(ctx, s.onConnect, s.onFrame)
}

func (s *Session) Close() error {
	return s.socket.Close()
}

// Refresh fetches the newest page and merges it.
func (s *Session) Refresh(ctx context.Context) error {
	tok := s.mirror.BeginFetch()
	list, _, err := s.api.List(ctx, common.ListFilter{Limit: s.FetchLimit})
	if err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}
	s.mirror.ApplyFetch(tok, list, len(list) >= s.FetchLimit)
	return nil
}

// Watch subscribes to live updates for a poll, now and after reconnects.
func (s *Session) Watch(pollID string) error {
	room := router.ResourceRoom(pollID)
	s.mu.Lock()
	s.watched[room] = struct{}{}
	s.mu.Unlock()

	return s.sendIfConnected(realtime.FrameJoinRoom, room)
}

func (s *Session) Unwatch(pollID string) error {
	room := router.ResourceRoom(pollID)
	s.mu.Lock()
	delete(s.watched, room)
	s.mu.Unlock()

	return s.sendIfConnected(realtime.FrameLeaveRoom, room)
}

func (s *Session) MarkRead(ctx context.Context, id string) error {
	pending := s.mirror.BeginMarkRead(id)
	if _, err := s.api.MarkRead(ctx, id); err != nil {
		pending.Rollback()
		return err
	}
	pending.Confirm()
	return nil
}

func (s *Session) MarkAllRead(ctx context.Context) (int64, error) {
	pending := s.mirror.BeginMarkAllRead()
	count, err := s.api.MarkAllRead(ctx)
	if err != nil {
		pending.Rollback()
		return 0, err
	}
	pending.Confirm()
	return count, nil
}

// Delete treats a record the server no longer has as deleted.
func (s *Session) Delete(ctx context.Context, id string) error {
	pending := s.mirror.BeginDelete(id)
	if err := s.api.Delete(ctx, id); err != nil && !errors.Is(err, common.ErrNotFound) {
		pending.Rollback()
		return err
	}
	pending.Confirm()
	return nil
}

func (s *Session) ClearAll(ctx context.Context) (int64, error) {
	pending := s.mirror.BeginClearAll()
	count, err := s.api.ClearAll(ctx)
	if err != nil {
		pending.Rollback()
		return 0, err
	}
	pending.Confirm()
	return count, nil
}

func (s *Session) onConnect(ctx context.Context, reconnected bool) {
	// the server already joined the personal room
	for _, room := range s.rooms() {
		if err := s.socket.Send(realtime.FrameJoinRoom, realtime.RoomPayload{Room: room}); err != nil {
			s.logger.Warn("failed to rejoin room", "room", room, "error", err)
		}
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("catch-up fetch failed", "reconnected", reconnected, "error", err)
		return
	}
	s.logger.Info("connected", "reconnected", reconnected, "unread", s.mirror.UnreadCount())
}

func (s *Session) onFrame(frame realtime.RawFrame) {
	switch frame.Event {
	case router.EventNewNotification:
		var n common.Notification
		if err := json.Unmarshal(frame.Data, &n); err != nil {
			s.logger.Warn("bad newNotification payload", "error", err)
			return
		}
		s.mirror.ApplyPush(&n)

	case router.EventNotificationRead:
		var payload router.NotificationReadPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			s.logger.Warn("bad notificationRead payload", "error", err)
			return
		}
		s.mirror.ApplyRead(payload.IDs, payload.All, payload.ReadAt)

	case realtime.FrameError:
		var payload realtime.ErrorPayload
		_ = json.Unmarshal(frame.Data, &payload)
		s.logger.Warn("server reported an error", "code", payload.Code, "message", payload.Message)
	}

	if s.OnEvent != nil {
		s.OnEvent(frame)
	}
}

func (s *Session) sendIfConnected(event, room string) error {
	err := s.socket.Send(event, realtime.RoomPayload{Room: room})
	if errors.Is(err, ErrNotConnected) {
		// picked up on the next connect
		return nil
	}
	return err
}

func (s *Session) rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.watched))
	for room := range s.watched {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
