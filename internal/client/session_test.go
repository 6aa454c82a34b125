package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"
	"pollcast/internal/dbsql"
	"pollcast/internal/notif"
	"pollcast/internal/polls"
	"pollcast/internal/realtime"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionSecret = "session-secret"

type testServer struct {
	cfg      *config.Config
	registry *realtime.Registry
	service  *notif.Service
	triggers *notif.Triggers
	polls    *polls.MemoryStore
	srv      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: sessionSecret},
		Realtime: config.RealtimeConfig{
			HandshakeTimeout: time.Second,
			PingInterval:     10 * time.Second,
			WriteWait:        time.Second,
			SendBuffer:       16,
		},
		Notification: config.NotificationConfig{
			RetryDelay:   time.Millisecond,
			DefaultLimit: 50,
			MaxLimit:     200,
		},
	}

	db, err := dbsql.OpenSQLite(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	validator := common.NewJWTValidator(sessionSecret, "")
	registry := realtime.NewRegistry(validator, nil)
	dispatcher := notif.NewDispatcher(nil)
	dispatcher.Subscribe(notif.NewRealtimeSink(registry, nil))
	store := polls.NewMemoryStore()
	service := notif.NewService(cfg, dbsql.NewNotificationRepository(db), dispatcher, nil)
	triggers := notif.NewTriggers(service, dispatcher, store, nil)

	r := mux.NewRouter()
	notif.NewHandler(cfg, service, triggers, nil).Register(r, validator)
	r.Handle("/ws", realtime.NewHandler(registry, cfg, nil))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{cfg: cfg, registry: registry, service: service, triggers: triggers, polls: store, srv: srv}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func mint(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := common.GenerateToken(secret, "", common.Identity{
		UserID:   userID,
		Username: userID,
		Email:    userID + "@example.com",
	}, ttl)
	require.NoError(t, err)
	return tok
}

func (s *testServer) session(t *testing.T, tokens TokenSource) *Session {
	socket := NewSocket(SocketConfig{
		URL:         s.wsURL(),
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}, tokens, nil)
	return NewSession(NewAPI(s.srv.URL, tokens), socket, NewMirror(), nil)
}

// start runs the session until the test ends and returns its exit error.
func start(t *testing.T, session *Session) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- session.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return done
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestSession_FetchPushAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.polls.PutPoll(common.Poll{ID: "p1", Title: "Lunch?", CreatorID: "alice", Status: common.PollActive,
		Options: []common.PollOption{{ID: "o1"}}})

	_, err := s.service.Notify(ctx, notif.NotifyRequest{Kind: common.KindSystem, RecipientID: "alice",
		Context: common.NotificationContext{Message: "welcome"}})
	require.NoError(t, err)

	session := s.session(t, StaticToken(mint(t, sessionSecret, "alice", time.Hour)))
	start(t, session)
	mirror := session.Mirror()
	eventually(t, func() bool { return mirror.Len() == 1 }, "initial fetch")

	result, err := s.triggers.VoteCast(ctx, notif.VoteInput{PollID: "p1", VoterID: "bob", VoterName: "Bob", OptionID: "o1"})
	require.NoError(t, err)
	vote := result.Notifications[0]
	eventually(t, func() bool { return mirror.UnreadCount() == 2 }, "vote pushed")

	require.NoError(t, session.MarkRead(ctx, vote.ID))
	n, ok := mirror.Get(vote.ID)
	require.True(t, ok)
	assert.True(t, n.IsRead)
	unread, err := s.service.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	count, err := session.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Zero(t, mirror.UnreadCount())

	require.NoError(t, session.Delete(ctx, vote.ID))
	assert.Equal(t, 1, mirror.Len())
	// already gone on the server
	require.NoError(t, session.Delete(ctx, vote.ID))
}

func TestSession_ReconnectCatchesUpAndRejoins(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	session := s.session(t, StaticToken(mint(t, sessionSecret, "alice", time.Hour)))
	require.NoError(t, session.Watch("p1"))
	start(t, session)

	eventually(t, func() bool { return len(s.registry.Members("resource:p1")) == 1 }, "watched room joined")
	first := s.registry.Members("resource:p1")[0]

	conns := s.registry.Connections("alice")
	require.Len(t, conns, 1)
	conns[0].Close(realtime.CloseServerForced, "restarting")

	// lands while the client is away or just back; either way it must show up
	_, err := s.service.Notify(ctx, notif.NotifyRequest{Kind: common.KindSystem, RecipientID: "alice"})
	require.NoError(t, err)

	eventually(t, func() bool {
		members := s.registry.Members("resource:p1")
		return len(members) == 1 && members[0] != first
	}, "room rejoined on the new connection")
	eventually(t, func() bool { return session.Mirror().Len() == 1 }, "missed notification fetched")
	assert.Equal(t, 1, s.registry.ConnectionCount())
}

func TestSession_AuthFailuresStop(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"malformed", "not-a-token", ErrAuthMalformed},
		{"expired", mint(t, sessionSecret, "alice", -time.Minute), ErrAuthExpired},
		{"invalid", mint(t, "some-other-secret", "alice", time.Hour), ErrAuthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := start(t, s.session(t, StaticToken(tt.token)))
			select {
			case err := <-done:
				assert.ErrorIs(t, err, tt.want)
			case <-time.After(3 * time.Second):
				t.Fatal("session kept running")
			}
		})
	}
}

type refreshingSource struct {
	mu      sync.Mutex
	current string
	fresh   string
}

func (r *refreshingSource) Token(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *refreshingSource) Refresh(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.fresh
	return r.current, nil
}

func TestSession_ExpiredTokenIsRefreshed(t *testing.T) {
	s := newTestServer(t)
	tokens := &refreshingSource{
		current: mint(t, sessionSecret, "alice", -time.Minute),
		fresh:   mint(t, sessionSecret, "alice", time.Hour),
	}

	start(t, s.session(t, tokens))
	eventually(t, func() bool { return len(s.registry.Connections("alice")) == 1 }, "connected after refresh")
}

func TestSocket_GivesUp(t *testing.T) {
	s := newTestServer(t)
	url := s.wsURL()
	s.srv.Close()

	socket := NewSocket(SocketConfig{URL: url, MaxAttempts: 2, BaseDelay: time.Millisecond}, StaticToken("x"), nil)
	err := socket.Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrGaveUp)
}

func TestSocket_Backoff(t *testing.T) {
	socket := NewSocket(SocketConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, StaticToken("x"), nil)

	assert.Equal(t, 100*time.Millisecond, socket.backoff(1))
	assert.Equal(t, 200*time.Millisecond, socket.backoff(2))
	assert.Equal(t, 800*time.Millisecond, socket.backoff(4))
	assert.Equal(t, time.Second, socket.backoff(5))
	assert.Equal(t, time.Second, socket.backoff(50))
}

func TestSession_FailedMutationRollsBack(t *testing.T) {
	s := newTestServer(t)
	tokens := StaticToken(mint(t, sessionSecret, "alice", time.Hour))
	session := s.session(t, tokens)
	s.srv.Close()

	mirror := session.Mirror()
	mirror.ApplyPush(&common.Notification{ID: "n1", RecipientID: "alice", Kind: common.KindVote, CreatedAt: time.Now()})

	require.Error(t, session.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 1, mirror.UnreadCount())

	require.Error(t, session.Delete(context.Background(), "n1"))
	assert.Equal(t, 1, mirror.Len())

	_, err := session.ClearAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, mirror.Len())
}

func TestAPI_ErrorsMapToSharedValues(t *testing.T) {
	s := newTestServer(t)
	api := NewAPI(s.srv.URL, StaticToken(mint(t, sessionSecret, "alice", time.Hour)))
	ctx := context.Background()

	_, err := api.MarkRead(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, _, err = api.List(ctx, common.ListFilter{Window: "year"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 400, statusErr.Code)

	bad := NewAPI(s.srv.URL, StaticToken("nope"))
	_, err = bad.UnreadCount(ctx)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	list, unread, err := api.List(ctx, common.ListFilter{UnreadOnly: true, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, unread)
}
