package notif

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pollcast/internal/common"
	"pollcast/internal/router"
)

// Triggers is called after the resource side has committed a change. It
// resolves who is affected, stores their notifications, then broadcasts.
type Triggers struct {
	service    *Service
	dispatcher *Dispatcher
	resources  common.ResourceStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewTriggers(service *Service, dispatcher *Dispatcher, resources common.ResourceStore, logger *slog.Logger) *Triggers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Triggers{
		service:    service,
		dispatcher: dispatcher,
		resources:  resources,
		logger:     logger.With("component", "triggers"),
		now:        time.Now,
	}
}

type VoteInput struct {
	PollID    string `json:"pollId" validate:"required"`
	VoterID   string `json:"voterId" validate:"required"`
	VoterName string `json:"voterName"`
	OptionID  string `json:"optionId"`
}

type CommentInput struct {
	CommentID string `json:"commentId" validate:"required"`
}

type CommentLikeInput struct {
	CommentID string `json:"commentId" validate:"required"`
	LikerID   string `json:"likerId" validate:"required"`
	LikerName string `json:"likerName"`
	Unliked   bool   `json:"unliked"`
}

type CommentDeletedInput struct {
	PollID    string `json:"pollId" validate:"required"`
	CommentID string `json:"commentId" validate:"required"`
}

type PollInput struct {
	PollID string `json:"pollId" validate:"required"`
}

// PollClosedInput names who closed the poll; ClosedBy is ignored when
// Automatic is set.
type PollClosedInput struct {
	PollID    string `json:"pollId" validate:"required"`
	ClosedBy  string `json:"closedBy"`
	Automatic bool   `json:"automatic"`
}

// Result reports what a trigger produced.
type Result struct {
	Notifications []*common.Notification `json:"notifications"`
	Broadcasts    int                    `json:"broadcasts"`
}

func (t *Triggers) VoteCast(ctx context.Context, in VoteInput) (*Result, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	poll, err := t.resources.Poll(ctx, in.PollID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", in.PollID, err)
	}

	return t.run(ctx, router.VoteCast{
		PollID:      poll.ID,
		PollTitle:   poll.Title,
		CreatorID:   poll.CreatorID,
		Status:      poll.Status,
		ShowResults: poll.ShowResults,
		Options:     poll.Options,
		VoterID:     in.VoterID,
		VoterName:   in.VoterName,
		OptionID:    in.OptionID,
	})
}

// CommentPosted handles comments and replies alike.
func (t *Triggers) CommentPosted(ctx context.Context, in CommentInput) (*Result, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	comment, err := t.resources.Comment(ctx, in.CommentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment %s: %w", in.CommentID, err)
	}
	poll, err := t.resources.Poll(ctx, comment.PollID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", comment.PollID, err)
	}

	return t.run(ctx, router.CommentPosted{
		PollID:    poll.ID,
		PollTitle: poll.Title,
		CreatorID: poll.CreatorID,
		Comment:   *comment,
	})
}

func (t *Triggers) CommentLiked(ctx context.Context, in CommentLikeInput) (*Result, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	comment, err := t.resources.Comment(ctx, in.CommentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment %s: %w", in.CommentID, err)
	}
	poll, err := t.resources.Poll(ctx, comment.PollID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", comment.PollID, err)
	}

	return t.run(ctx, router.CommentLiked{
		PollID:    poll.ID,
		PollTitle: poll.Title,
		CommentID: comment.ID,
		AuthorID:  comment.AuthorID,
		LikerID:   in.LikerID,
		LikerName: in.LikerName,
		Likes:     comment.Likes,
		Unliked:   in.Unliked,
	})
}

// CommentDeleted takes ids only; the comment is already gone.
func (t *Triggers) CommentDeleted(ctx context.Context, in CommentDeletedInput) (*Result, error) {
	return t.run(ctx, router.CommentDeleted{PollID: in.PollID, CommentID: in.CommentID})
}

// PollClosed reports a closure that has already been stored, whether a user
// closed the poll or the closer did.
func (t *Triggers) PollClosed(ctx context.Context, in PollClosedInput) (*Result, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	poll, err := t.resources.Poll(ctx, in.PollID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", in.PollID, err)
	}
	if poll.Status != common.PollClosed {
		return nil, fmt.Errorf("%w: poll %s is %s, not closed", common.ErrInvalidInput, poll.ID, poll.Status)
	}

	closedAt := t.now()
	if poll.ClosedAt != nil {
		closedAt = *poll.ClosedAt
	}
	return t.run(ctx, router.PollClosed{
		PollID:      poll.ID,
		PollTitle:   poll.Title,
		CreatorID:   poll.CreatorID,
		ShowResults: poll.ShowResults,
		Options:     poll.Options,
		Automatic:   in.Automatic,
		ClosedBy:    in.ClosedBy,
		ClosedAt:    closedAt,
	})
}

func (t *Triggers) PollCreated(ctx context.Context, in PollInput) (*Result, error) {
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}
	poll, err := t.resources.Poll(ctx, in.PollID)
	if err != nil {
		return nil, fmt.Errorf("failed to load poll %s: %w", in.PollID, err)
	}

	return t.run(ctx, router.PollCreated{
		PollID:      poll.ID,
		Title:       poll.Title,
		CreatorID:   poll.CreatorID,
		CreatorName: poll.CreatorName,
		Draft:       poll.Status == common.PollDraft,
		CreatedAt:   poll.CreatedAt,
	})
}

// run stores every intent before any broadcast leaves. The first store
// failure aborts the trigger and nothing is broadcast.
func (t *Triggers) run(ctx context.Context, ev router.Event) (*Result, error) {
	plan, err := router.Route(ev)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, intent := range plan.Notifications {
		n, err := t.service.Notify(ctx, NotifyRequest{
			Kind:        intent.Kind,
			RecipientID: intent.RecipientID,
			ActorID:     intent.ActorID,
			Context:     intent.Context,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name(), err)
		}
		if n != nil {
			result.Notifications = append(result.Notifications, n)
		}
	}

	t.dispatcher.Dispatch(plan.Broadcasts...)
	result.Broadcasts = len(plan.Broadcasts)

	t.logger.Debug("trigger handled", "event", ev.Name(),
		"notifications", len(result.Notifications), "broadcasts", result.Broadcasts)
	return result, nil
}
