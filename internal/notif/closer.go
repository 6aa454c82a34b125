package notif

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/config"
)

// Closer closes active polls whose end time has passed. The store's
// compare-and-set decides which caller performed a closure, so each poll
// yields one poll_closed notification even with several sweepers running.
type Closer struct {
	resources common.ResourceStore
	triggers  *Triggers
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewCloser(cfg *config.Config, resources common.ResourceStore, triggers *Triggers, logger *slog.Logger) *Closer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Closer{
		resources: resources,
		triggers:  triggers,
		interval:  cfg.Notification.ClosureCheckInterval,
		logger:    logger.With("component", "closer"),
		now:       time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (c *Closer) Run(ctx context.Context) {
	if c.interval <= 0 {
		c.logger.Info("automatic poll closure disabled")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("poll closure sweep failed", "error", err)
			}
		}
	}
}

// Sweep returns how many polls this call closed and reported. A closure
// whose report could not be stored is undone so a later sweep retries it.
func (c *Closer) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	polls, err := c.resources.ExpiredActivePolls(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to get expired polls: %w", err)
	}

	closed := 0
	var firstErr error
	for _, poll := range polls {
		ok, err := c.resources.ClosePoll(ctx, poll.ID, now)
		if err != nil {
			c.logger.Error("failed to close poll", "poll_id", poll.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			// closed by someone else in the meantime
			continue
		}

		if _, err := c.triggers.PollClosed(ctx, PollClosedInput{PollID: poll.ID, Automatic: true}); err != nil {
			c.logger.Error("failed to report poll closure", "poll_id", poll.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			c.revert(ctx, poll.ID, now)
			continue
		}
		closed++
	}

	if closed > 0 {
		c.logger.Info("closed expired polls", "count", closed)
	}
	return closed, firstErr
}

// revert runs even when ctx is done; a cancelled sweep must not strand a
// closed poll without its report.
func (c *Closer) revert(ctx context.Context, pollID string, closedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	ok, err := c.resources.ReopenPoll(ctx, pollID, closedAt)
	switch {
	case err != nil:
		c.logger.Error("failed to reopen unreported poll", "poll_id", pollID, "error", err)
	case !ok:
		c.logger.Warn("unreported poll changed before it could be reopened", "poll_id", pollID)
	default:
		c.logger.Info("reopened poll for a later sweep", "poll_id", pollID)
	}
}
