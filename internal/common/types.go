package common

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NotificationKind string

const (
	KindVote        NotificationKind = "vote"
	KindComment     NotificationKind = "comment"
	KindReply       NotificationKind = "reply"
	KindCommentLike NotificationKind = "comment_like"
	KindPollCreated NotificationKind = "poll_created"
	KindPollClosed  NotificationKind = "poll_closed"
	KindSystem      NotificationKind = "system"
)

// Kinds lists every notification kind in declaration order.
var Kinds = []NotificationKind{
	KindVote,
	KindComment,
	KindReply,
	KindCommentLike,
	KindPollCreated,
	KindPollClosed,
	KindSystem,
}

func (k NotificationKind) Valid() bool {
	for _, kind := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// PriorityFor maps a kind to its fixed priority. Unknown kinds are low.
func PriorityFor(kind NotificationKind) Priority {
	switch kind {
	case KindSystem:
		return PriorityHigh
	case KindComment, KindReply, KindPollClosed:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// NotificationContext is the navigation data attached to a notification.
type NotificationContext struct {
	PollID    string `json:"pollId,omitempty"`
	PollTitle string `json:"pollTitle,omitempty"`
	CommentID string `json:"commentId,omitempty"`
	ActorName string `json:"actorName,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Value stores the context as a JSON column.
func (c NotificationContext) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *NotificationContext) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = NotificationContext{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported notification context type %T", value)
	}
	if len(raw) == 0 {
		*c = NotificationContext{}
		return nil
	}
	return json.Unmarshal(raw, c)
}

// Notification is the durable per-recipient record.
type Notification struct {
	Seq         uint64              `gorm:"primaryKey;autoIncrement" json:"-"`
	ID          string              `gorm:"uniqueIndex;size:36;not null" json:"id"`
	RecipientID string              `gorm:"index:idx_recipient_created;size:64;not null" json:"recipientId"`
	Kind        NotificationKind    `gorm:"size:32;not null" json:"kind"`
	Message     string              `gorm:"type:text;not null" json:"message"`
	Context     NotificationContext `gorm:"type:text" json:"context"`
	Priority    Priority            `gorm:"size:16;not null" json:"priority"`
	IsRead      bool                `gorm:"not null;default:false" json:"isRead"`
	ReadAt      *time.Time          `json:"readAt,omitempty"`
	CreatedAt   time.Time           `gorm:"index:idx_recipient_created" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

type Window string

const (
	WindowAll   Window = "all"
	WindowToday Window = "today"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

func (w Window) Valid() bool {
	switch w {
	case "", WindowAll, WindowToday, WindowWeek, WindowMonth:
		return true
	}
	return false
}

// Since returns the lower creation bound of the window, zero for all.
func (w Window) Since(now time.Time) time.Time {
	switch w {
	case WindowToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case WindowWeek:
		return now.AddDate(0, 0, -7)
	case WindowMonth:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// ListFilter narrows a recipient's notification list. Zero values match all.
type ListFilter struct {
	Kind       NotificationKind
	Priority   Priority
	UnreadOnly bool
	Window     Window
	Limit      int
}

// Identity is what a validated credential resolves to.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	// ExpiresAt is zero when the credential carries no expiry.
	ExpiresAt time.Time `json:"-"`
}

type PollStatus string

const (
	PollDraft  PollStatus = "draft"
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

type PollOption struct {
	ID    string `json:"id" bson:"id"`
	Text  string `json:"text" bson:"text"`
	Votes int    `json:"votes" bson:"votes"`
}

// Poll is the slice of the poll document the notification core reads.
type Poll struct {
	ID          string       `json:"id" bson:"_id"`
	Title       string       `json:"title" bson:"title"`
	CreatorID   string       `json:"creatorId" bson:"creator_id"`
	CreatorName string       `json:"creatorName" bson:"creator_name"`
	Status      PollStatus   `json:"status" bson:"status"`
	ShowResults bool         `json:"showResults" bson:"show_results"`
	Options     []PollOption `json:"options" bson:"options"`
	EndsAt      *time.Time   `json:"endsAt,omitempty" bson:"ends_at,omitempty"`
	ClosedAt    *time.Time   `json:"closedAt,omitempty" bson:"closed_at,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" bson:"created_at"`
}

func (p Poll) TotalVotes() int {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}
	return total
}

type Comment struct {
	ID         string    `json:"id" bson:"_id"`
	PollID     string    `json:"pollId" bson:"poll_id"`
	AuthorID   string    `json:"authorId" bson:"author_id"`
	AuthorName string    `json:"authorName" bson:"author_name"`
	ParentID   string    `json:"parentId,omitempty" bson:"parent_id,omitempty"`
	Text       string    `json:"text" bson:"text"`
	Likes      int       `json:"likes" bson:"likes"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}
