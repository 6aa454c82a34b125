package common

//go:generate mockgen -destination=../notif/mocks/mock_store.go -package=mocks pollcast/internal/common NotificationStore,ResourceStore

import (
	"context" // provides context for cancellation, deletion, update anything
	"time"
)

// NotificationStore is the durable per-recipient notification log.
type NotificationStore interface {
	Append(ctx context.Context, n *Notification) (*Notification, error)
	List(ctx context.Context, recipientID string, filter ListFilter) ([]*Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) (*Notification, error)
	// MarkAllRead also returns the read_at it stamped on the updated rows.
	MarkAllRead(ctx context.Context, recipientID string) (int64, time.Time, error)
	Delete(ctx context.Context, id, recipientID string) error
	ClearAll(ctx context.Context, recipientID string) (int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
}

// ResourceStore is the read side of the poll/comment document store.
type ResourceStore interface {
	Poll(ctx context.Context, id string) (*Poll, error)
	Comment(ctx context.Context, id string) (*Comment, error)
	ExpiredActivePolls(ctx context.Context, now time.Time) ([]*Poll, error)
	// ClosePoll moves an active poll to closed and reports whether this call
	// performed the transition.
	ClosePoll(ctx context.Context, id string, at time.Time) (bool, error)
	// ReopenPoll undoes a ClosePoll made with the same at. It reports false
	// when the poll has since moved on (reopened or closed by someone else).
	ReopenPoll(ctx context.Context, id string, closedAt time.Time) (bool, error)
}

type TokenValidator interface {
	Validate(credential string) (Identity, error)
}
