package notif

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"
	"pollcast/internal/dbsql"
	"pollcast/internal/polls"
	"pollcast/internal/realtime"
	"pollcast/internal/router"

	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{InternalKey: "internal-secret"},
		Auth:   config.AuthConfig{JWTSecret: "test-secret"},
		Notification: config.NotificationConfig{
			MaxRetries:           2,
			RetryDelay:           time.Millisecond,
			ClosureCheckInterval: time.Minute,
			DefaultLimit:         50,
			MaxLimit:             200,
		},
	}
}

// recordingSink keeps every dispatch it sees.
type recordingSink struct {
	mu         sync.Mutex
	dispatches []router.Dispatch
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(d router.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, d)
	return nil
}

func (s *recordingSink) All() []router.Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]router.Dispatch(nil), s.dispatches...)
}

func (s *recordingSink) Events(room string) []string {
	var out []string
	for _, d := range s.All() {
		if d.Room == room {
			out = append(out, d.Event)
		}
	}
	return out
}

// liveConn is an in-memory realtime.Conn.
type liveConn struct {
	id       string
	identity common.Identity

	mu     sync.Mutex
	frames []realtime.Frame
}

func (c *liveConn) ID() string                { return c.id }
func (c *liveConn) Identity() common.Identity { return c.identity }
func (c *liveConn) Close(int, string)         {}

func (c *liveConn) Send(f realtime.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *liveConn) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Event
	}
	return out
}

func (c *liveConn) Frames() []realtime.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Frame(nil), c.frames...)
}

// stack is the full server side on sqlite and in-memory polls.
type stack struct {
	cfg        *config.Config
	repo       *dbsql.NotificationRepository
	polls      *polls.MemoryStore
	registry   *realtime.Registry
	dispatcher *Dispatcher
	sink       *recordingSink
	service    *Service
	triggers   *Triggers
	closer     *Closer
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := testConfig()

	db, err := dbsql.OpenSQLite(filepath.Join(t.TempDir(), "notif.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	s := &stack{
		cfg:        cfg,
		repo:       dbsql.NewNotificationRepository(db),
		polls:      polls.NewMemoryStore(),
		registry:   realtime.NewRegistry(common.NewJWTValidator(cfg.Auth.JWTSecret, ""), nil),
		dispatcher: NewDispatcher(nil),
		sink:       &recordingSink{},
	}
	s.dispatcher.Subscribe(NewRealtimeSink(s.registry, nil))
	s.dispatcher.Subscribe(s.sink)
	s.service = NewService(cfg, s.repo, s.dispatcher, nil)
	s.triggers = NewTriggers(s.service, s.dispatcher, s.polls, nil)
	s.closer = NewCloser(cfg, s.polls, s.triggers, nil)
	return s
}

func (s *stack) connect(connID, userID string) *liveConn {
	conn := &liveConn{id: connID, identity: common.Identity{UserID: userID, Username: userID}}
	s.registry.OnConnect(conn)
	return conn
}
