package notif

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"
	"pollcast/internal/router"

	"github.com/google/uuid"
)

type NotifyRequest struct {
	Kind        common.NotificationKind    `json:"kind" validate:"required,kind"`
	RecipientID string                     `json:"recipientId" validate:"required"`
	ActorID     string                     `json:"actorId"`
	Context     common.NotificationContext `json:"context"`
}

// Service is the only writer of notification records and the only source
// of newNotification pushes.
type Service struct {
	store      common.NotificationStore
	dispatcher *Dispatcher
	cfg        config.NotificationConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(cfg *config.Config, store common.NotificationStore, dispatcher *Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg.Notification,
		logger:     logger.With("component", "notif"),
		now:        time.Now,
	}
}

// Notify stores a notification and pushes it to the recipient. It returns
// (nil, nil) when the actor is the recipient. A store failure is returned
// after the configured retries; push failures never are.
func (s *Service) Notify(ctx context.Context, req NotifyRequest) (*common.Notification, error) {
	if req.ActorID != "" && req.ActorID == req.RecipientID {
		return nil, nil
	}
	if err := common.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}

	record := common.Notification{
		ID:          uuid.NewString(),
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		Message:     MessageFor(req.Kind, req.Context),
		Context:     req.Context,
		Priority:    common.PriorityFor(req.Kind),
		CreatedAt:   s.now(),
	}

	stored, err := s.appendWithRetry(ctx, record)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(router.ForNotification(stored))
	s.logger.Info("notification created",
		"id", stored.ID, "kind", stored.Kind, "recipient_id", stored.RecipientID)
	return stored, nil
}

func (s *Service) appendWithRetry(ctx context.Context, record common.Notification) (*common.Notification, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("failed to store notification: %w", ctx.Err())
			case <-time.After(s.cfg.RetryDelay):
			}
		}

		n := record
		stored, err := s.store.Append(ctx, &n)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, common.ErrDuplicateID) && attempt > 0 {
			// an earlier attempt landed even though it reported failure
			s.logger.Warn("notification already stored by earlier attempt", "id", record.ID)
			n = record
			return &n, nil
		}
		if errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrDuplicateID) {
			return nil, fmt.Errorf("failed to store notification: %w", err)
		}

		lastErr = err
		s.logger.Warn("notification append failed", "attempt", attempt+1, "recipient_id", record.RecipientID, "error", err)
	}
	return nil, fmt.Errorf("failed to store notification after %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

// List applies the configured default and maximum page sizes.
func (s *Service) List(ctx context.Context, recipientID string, filter common.ListFilter) ([]*common.Notification, error) {
	if !filter.Window.Valid() {
		return nil, fmt.Errorf("%w: unknown window %q", common.ErrInvalidInput, filter.Window)
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", common.ErrInvalidInput, filter.Kind)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", common.ErrInvalidInput, filter.Priority)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = s.cfg.DefaultLimit
	case s.cfg.MaxLimit > 0 && filter.Limit > s.cfg.MaxLimit:
		filter.Limit = s.cfg.MaxLimit
	}
	return s.store.List(ctx, recipientID, filter)
}

// MarkRead is idempotent; the recipient's other tabs are told either way.
func (s *Service) MarkRead(ctx context.Context, id, recipientID string) (*common.Notification, error) {
	n, err := s.store.MarkRead(ctx, id, recipientID)
	if err != nil {
		return nil, err
	}

	readAt := s.now()
	if n.ReadAt != nil {
		readAt = *n.ReadAt
	}
	s.route(router.NotificationRead{RecipientID: recipientID, IDs: []string{n.ID}, Count: 1, ReadAt: readAt})
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	count, readAt, err := s.store.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.route(router.NotificationRead{RecipientID: recipientID, All: true, Count: count, ReadAt: readAt})
	}
	return count, nil
}

func (s *Service) Delete(ctx context.Context, id, recipientID string) error {
	return s.store.Delete(ctx, id, recipientID)
}

func (s *Service) ClearAll(ctx context.Context, recipientID string) (int64, error) {
	return s.store.ClearAll(ctx, recipientID)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.store.UnreadCount(ctx, recipientID)
}

// Broadcast routes ev and pushes its broadcasts. Events that carry
// notification intents must go through Triggers instead.
func (s *Service) Broadcast(ev router.Event) error {
	plan, err := router.Route(ev)
	if err != nil {
		return err
	}
	s.dispatcher.Dispatch(plan.Broadcasts...)
	return nil
}

func (s *Service) route(ev router.Event) {
	if err := s.Broadcast(ev); err != nil {
		s.logger.Warn("failed to route event", "event", ev.Name(), "error", err)
	}
}
