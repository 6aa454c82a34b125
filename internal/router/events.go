// Package router turns domain events into room dispatch instructions.
// Nothing in here performs I/O.
package router

import (
	"time"

	"pollcast/internal/common"
)

// Push event names as seen by clients.
const (
	EventNewNotification   = "newNotification"
	EventNotificationRead  = "notificationRead"
	EventPollUpdate        = "pollUpdate"
	EventPollClosed        = "pollClosed"
	EventNewPoll           = "newPoll"
	EventNewComment        = "newComment"
	EventCommentLikeUpdate = "commentLikeUpdate"
	EventCommentDeleted    = "commentDeleted"
)

// Event is one of the trigger variants below.
type Event interface {
	Name() string
	Validate() error
}

type VoteCast struct {
	PollID      string              `json:"pollId" validate:"required"`
	PollTitle   string              `json:"pollTitle"`
	CreatorID   string              `json:"creatorId" validate:"required"`
	Status      common.PollStatus   `json:"status"`
	ShowResults bool                `json:"showResults"`
	Options     []common.PollOption `json:"options"`
	VoterID     string              `json:"voterId" validate:"required"`
	VoterName   string              `json:"voterName"`
	OptionID    string              `json:"optionId"`
}

func (VoteCast) Name() string { return "vote_cast" }

func (e VoteCast) Validate() error { return common.ValidateStruct(e) }

// CommentPosted covers top-level comments and replies (ParentID set).
type CommentPosted struct {
	PollID    string         `json:"pollId" validate:"required"`
	PollTitle string         `json:"pollTitle"`
	CreatorID string         `json:"creatorId" validate:"required"`
	Comment   common.Comment `json:"comment"`
}

func (CommentPosted) Name() string { return "comment_posted" }

func (e CommentPosted) Validate() error {
	if err := common.ValidateStruct(e); err != nil {
		return err
	}
	return validateComment(e.PollID, e.Comment)
}

func (e CommentPosted) IsReply() bool {
	return e.Comment.ParentID != ""
}

type CommentLiked struct {
	PollID    string `json:"pollId" validate:"required"`
	PollTitle string `json:"pollTitle"`
	CommentID string `json:"commentId" validate:"required"`
	AuthorID  string `json:"authorId" validate:"required"`
	LikerID   string `json:"likerId" validate:"required"`
	LikerName string `json:"likerName"`
	Likes     int    `json:"likes" validate:"gte=0"`
	// Unliked marks the removal of a like; it updates counts but notifies nobody.
	Unliked bool `json:"unliked"`
}

func (CommentLiked) Name() string { return "comment_liked" }

func (e CommentLiked) Validate() error { return common.ValidateStruct(e) }

type CommentDeleted struct {
	PollID    string `json:"pollId" validate:"required"`
	CommentID string `json:"commentId" validate:"required"`
}

func (CommentDeleted) Name() string { return "comment_deleted" }

func (e CommentDeleted) Validate() error { return common.ValidateStruct(e) }

type PollClosed struct {
	PollID      string              `json:"pollId" validate:"required"`
	PollTitle   string              `json:"pollTitle"`
	CreatorID   string              `json:"creatorId" validate:"required"`
	ShowResults bool                `json:"showResults"`
	Options     []common.PollOption `json:"options"`
	Automatic   bool                `json:"automatic"`
	ClosedBy    string              `json:"closedBy"`
	ClosedAt    time.Time           `json:"closedAt" validate:"required"`
}

func (PollClosed) Name() string { return "poll_closed" }

func (e PollClosed) Validate() error { return common.ValidateStruct(e) }

type PollCreated struct {
	PollID      string    `json:"pollId" validate:"required"`
	Title       string    `json:"title"`
	CreatorID   string    `json:"creatorId" validate:"required"`
	CreatorName string    `json:"creatorName"`
	Draft       bool      `json:"draft"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (PollCreated) Name() string { return "poll_created" }

func (e PollCreated) Validate() error { return common.ValidateStruct(e) }

// NotificationRead reports read transitions back to the recipient's tabs.
type NotificationRead struct {
	RecipientID string    `json:"recipientId" validate:"required"`
	IDs         []string  `json:"ids" validate:"required_without=All"`
	All         bool      `json:"all"`
	Count       int64     `json:"count"`
	ReadAt      time.Time `json:"readAt"`
}

func (NotificationRead) Name() string { return "notification_read" }

func (e NotificationRead) Validate() error { return common.ValidateStruct(e) }

func validateComment(pollID string, c common.Comment) error {
	if c.ID == "" {
		return &common.ValidationError{Field: "Comment.ID", Message: "failed on 'required' validation"}
	}
	if c.AuthorID == "" {
		return &common.ValidationError{Field: "Comment.AuthorID", Message: "failed on 'required' validation"}
	}
	if c.PollID != "" && c.PollID != pollID {
		return &common.ValidationError{Field: "Comment.PollID", Message: "does not match poll"}
	}
	return nil
}

// Payload schemas, one per push event name.

type PollUpdatePayload struct {
	PollID     string              `json:"pollId"`
	Status     common.PollStatus   `json:"status"`
	TotalVotes int                 `json:"totalVotes"`
	Options    []common.PollOption `json:"options,omitempty"`
}

type PollClosedPayload struct {
	PollID    string    `json:"pollId"`
	Automatic bool      `json:"automatic"`
	ClosedAt  time.Time `json:"closedAt"`
}

type NewPollPayload struct {
	PollID      string    `json:"pollId"`
	Title       string    `json:"title"`
	CreatorID   string    `json:"creatorId"`
	CreatorName string    `json:"creatorName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type NewCommentPayload struct {
	PollID  string         `json:"pollId"`
	Comment common.Comment `json:"comment"`
}

type CommentLikePayload struct {
	PollID    string `json:"pollId"`
	CommentID string `json:"commentId"`
	Likes     int    `json:"likes"`
}

type CommentDeletedPayload struct {
	PollID    string `json:"pollId"`
	CommentID string `json:"commentId"`
}

type NotificationReadPayload struct {
	IDs    []string  `json:"ids,omitempty"`
	All    bool      `json:"all"`
	Count  int64     `json:"count"`
	ReadAt time.Time `json:"readAt"`
}
