// notif-tail follows one user's notifications over the live channel and
// prints each change along with the current unread count.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pollcast/internal/client"
	"pollcast/internal/realtime"
	"pollcast/internal/router"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		baseURL = flag.String("server", envOr("POLLCAST_SERVER", "http://localhost:8080"), "notification service base URL")
		token   = flag.String("token", os.Getenv("POLLCAST_TOKEN"), "bearer token (or POLLCAST_TOKEN)")
		watch   = flag.String("watch", "", "comma separated poll ids to follow")
		verbose = flag.Bool("v", false, "log connection activity")
	)
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "notif-tail: a token is required")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := newSession(*baseURL, client.StaticToken(*token), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notif-tail: %v\n", err)
		os.Exit(2)
	}
	session.OnEvent = printer(os.Stdout, session.Mirror())

	for _, pollID := range splitIDs(*watch) {
		if err := session.Watch(pollID); err != nil {
			logger.Warn("failed to watch poll", "poll_id", pollID, "error", err)
		}
	}

	err = session.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, client.ErrAuthExpired), errors.Is(err, client.ErrAuthInvalid), errors.Is(err, client.ErrAuthMalformed):
		fmt.Fprintf(os.Stderr, "notif-tail: authentication rejected: %v\n", err)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "notif-tail: %v\n", err)
		os.Exit(1)
	}
}

func newSession(baseURL string, tokens client.TokenSource, logger *slog.Logger) (*client.Session, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	wsURL, err := socketURL(baseURL)
	if err != nil {
		return nil, err
	}
	api := client.NewAPI(baseURL, tokens)
	socket := client.NewSocket(client.SocketConfig{URL: wsURL}, tokens, logger)
	return client.NewSession(api, socket, client.NewMirror(), logger), nil
}

func socketURL(baseURL string) (string, error) {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws", nil
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws", nil
	}
	return "", fmt.Errorf("unsupported server url %q", baseURL)
}

func printer(w io.Writer, mirror *client.Mirror) func(realtime.RawFrame) {
	return func(frame realtime.RawFrame) {
		switch frame.Event {
		case router.EventNewNotification, router.EventNotificationRead:
			fmt.Fprintf(w, "[%s] unread=%d\n", frame.Event, mirror.UnreadCount())
			for _, n := range mirror.List() {
				if !n.IsRead {
					fmt.Fprintf(w, "  %s  %-14s %s\n", n.CreatedAt.Format("15:04:05"), n.Kind, n.Message)
				}
			}
		default:
			fmt.Fprintf(w, "[%s] %s\n", frame.Event, frame.Data)
		}
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
