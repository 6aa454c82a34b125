package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/realtime"

	"github.com/gorilla/websocket"
)

var (
	// ErrAuthMalformed means the credential is unusable; discard it.
	ErrAuthMalformed = errors.New("credential is malformed")
	// ErrAuthExpired means the credential expired and could not be refreshed.
	ErrAuthExpired = errors.New("credential expired")
	ErrAuthInvalid = errors.New("credential rejected")
	// ErrGaveUp is returned once every reconnect attempt has failed.
	ErrGaveUp       = errors.New("reconnect attempts exhausted")
	ErrNotConnected = errors.New("socket not connected")
)

type SocketConfig struct {
	URL         string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// ReadTimeout is how long the socket waits for any frame or ping.
	ReadTimeout time.Duration
	Dialer      *websocket.Dialer
}

func (c *SocketConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 8 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Minute
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// ConnectFunc runs after every successful connect. reconnected is false only
// for the first one.
type ConnectFunc func(ctx context.Context, reconnected bool)

type FrameFunc func(frame realtime.RawFrame)

// Socket is a push connection that reconnects on its own. Authentication
// failures stop it; anything else is retried a bounded number of times.
type Socket struct {
	cfg    SocketConfig
	tokens TokenSource
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stopped bool
}

func NewSocket(cfg SocketConfig, tokens TokenSource, logger *slog.Logger) *Socket {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With("component", "socket"),
	}
}

// Run blocks until ctx is done, Close is called, or reconnecting is no
// longer possible.
func (s *Socket) Run(ctx context.Context, onConnect ConnectFunc, onFrame FrameFunc) error {
	failures := 0
	connected := false
	// one refresh per successful connect, so a stale source cannot spin
	refreshed := false

	for {
		if s.isStopped() {
			return nil
		}

		conn, err := s.dial(ctx)
		if err == nil {
			failures = 0
			refreshed = false
			s.setConn(conn)
			if onConnect != nil {
				onConnect(ctx, connected)
			}
			connected = true

			err = s.readLoop(ctx, conn, onFrame)
			s.setConn(nil)
			conn.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isStopped() {
			return nil
		}

		switch {
		case errors.Is(err, ErrAuthMalformed), errors.Is(err, ErrAuthInvalid):
			return err
		case errors.Is(err, ErrAuthExpired):
			if refreshed {
				return err
			}
			refreshed = true
			if _, rerr := s.tokens.Refresh(ctx); rerr != nil {
				return fmt.Errorf("%w: refresh failed: %v", ErrAuthExpired, rerr)
			}
			s.logger.Info("credential refreshed, reconnecting")
			continue
		}

		failures++
		if failures > s.cfg.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		delay := s.backoff(failures)
		s.logger.Warn("connection lost, retrying", "attempt", failures, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Send writes one frame on the current connection.
func (s *Socket) Send(event string, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.WriteJSON(realtime.Frame{Event: event, Data: data})
}

// Close ends the connection without reconnecting.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, refusal(resp)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, onFrame FrameFunc) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.mu.Lock()
		defer s.mu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var frame realtime.RawFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return closeError(err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

func (s *Socket) backoff(attempt int) time.Duration {
	delay := s.cfg.BaseDelay
	for i := 1; i < attempt && delay < s.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

func (s *Socket) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *Socket) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// closeError maps the server's auth close codes to the client's errors.
func closeError(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case realtime.CloseAuthMalformed:
		return fmt.Errorf("%w: %s", ErrAuthMalformed, ce.Text)
	case realtime.CloseAuthExpired:
		return fmt.Errorf("%w: %s", ErrAuthExpired, ce.Text)
	case realtime.CloseAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthInvalid, ce.Text)
	}
	return err
}

// refusal reads the reason from a 401 returned instead of an upgrade.
func refusal(resp *http.Response) error {
	var body struct {
		Reason common.AuthReason `json:"reason"`
	}
	if resp.Body != nil {
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &body)
	}

	switch body.Reason {
	case common.AuthMalformed:
		return ErrAuthMalformed
	case common.AuthExpired:
		return ErrAuthExpired
	default:
		return ErrAuthInvalid
	}
}
