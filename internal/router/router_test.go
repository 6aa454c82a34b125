package router

import (
	"testing"
	"time"

	"pollcast/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var options = []common.PollOption{
	{ID: "o1", Text: "Yes", Votes: 3},
	{ID: "o2", Text: "No", Votes: 2},
}

func TestRoute_VoteCast(t *testing.T) {
	ev := VoteCast{
		PollID:      "p1",
		PollTitle:   "Lunch?",
		CreatorID:   "alice",
		Status:      common.PollActive,
		ShowResults: true,
		Options:     options,
		VoterID:     "bob",
		VoterName:   "Bob",
		OptionID:    "o1",
	}

	plan, err := Route(ev)
	require.NoError(t, err)

	require.Len(t, plan.Notifications, 1)
	intent := plan.Notifications[0]
	assert.Equal(t, common.KindVote, intent.Kind)
	assert.Equal(t, "alice", intent.RecipientID)
	assert.Equal(t, "bob", intent.ActorID)
	assert.Equal(t, "p1", intent.Context.PollID)
	assert.Equal(t, "Bob", intent.Context.ActorName)

	require.Len(t, plan.Broadcasts, 1)
	d := plan.Broadcasts[0]
	assert.Equal(t, "resource:p1", d.Room)
	assert.Equal(t, EventPollUpdate, d.Event)
	payload := d.Payload.(PollUpdatePayload)
	assert.Equal(t, 5, payload.TotalVotes)
	assert.Len(t, payload.Options, 2)
}

func TestRoute_VoteCast_HiddenResults(t *testing.T) {
	plan, err := Route(VoteCast{PollID: "p1", CreatorID: "alice", VoterID: "bob", Options: options})
	require.NoError(t, err)

	payload := plan.Broadcasts[0].Payload.(PollUpdatePayload)
	assert.Equal(t, 5, payload.TotalVotes)
	assert.Empty(t, payload.Options)
}

func TestRoute_SelfActionsProduceNoIntent(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"self vote", VoteCast{PollID: "p1", CreatorID: "alice", VoterID: "alice"}},
		{"self comment", CommentPosted{PollID: "p1", CreatorID: "alice", Comment: common.Comment{ID: "c1", AuthorID: "alice"}}},
		{"self reply", CommentPosted{PollID: "p1", CreatorID: "alice", Comment: common.Comment{ID: "c2", AuthorID: "alice", ParentID: "c1"}}},
		{"self like", CommentLiked{PollID: "p1", CommentID: "c1", AuthorID: "bob", LikerID: "bob", Likes: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Route(tt.ev)
			require.NoError(t, err)
			assert.Empty(t, plan.Notifications)
			// viewers of the poll still get the live update
			assert.Len(t, plan.Broadcasts, 1)
		})
	}
}

func TestRoute_CommentPosted(t *testing.T) {
	comment := common.Comment{ID: "c1", AuthorID: "bob", AuthorName: "Bob", Text: "hi"}

	plan, err := Route(CommentPosted{PollID: "p1", PollTitle: "Lunch?", CreatorID: "alice", Comment: comment})
	require.NoError(t, err)
	require.Len(t, plan.Notifications, 1)
	assert.Equal(t, common.KindComment, plan.Notifications[0].Kind)
	assert.Equal(t, "c1", plan.Notifications[0].Context.CommentID)

	require.Len(t, plan.Broadcasts, 1)
	assert.Equal(t, EventNewComment, plan.Broadcasts[0].Event)
	assert.Equal(t, "resource:p1", plan.Broadcasts[0].Room)
	payload := plan.Broadcasts[0].Payload.(NewCommentPayload)
	assert.Equal(t, "p1", payload.Comment.PollID)

	comment.ParentID = "c0"
	plan, err = Route(CommentPosted{PollID: "p1", CreatorID: "alice", Comment: comment})
	require.NoError(t, err)
	assert.Equal(t, common.KindReply, plan.Notifications[0].Kind)
}

func TestRoute_CommentLiked(t *testing.T) {
	ev := CommentLiked{PollID: "p1", CommentID: "c1", AuthorID: "bob", LikerID: "carol", LikerName: "Carol", Likes: 4}

	plan, err := Route(ev)
	require.NoError(t, err)
	require.Len(t, plan.Notifications, 1)
	assert.Equal(t, common.KindCommentLike, plan.Notifications[0].Kind)
	assert.Equal(t, "bob", plan.Notifications[0].RecipientID)
	assert.Equal(t, CommentLikePayload{PollID: "p1", CommentID: "c1", Likes: 4}, plan.Broadcasts[0].Payload)
	assert.Equal(t, EventCommentLikeUpdate, plan.Broadcasts[0].Event)

	ev.Unliked = true
	ev.Likes = 3
	plan, err = Route(ev)
	require.NoError(t, err)
	assert.Empty(t, plan.Notifications)
	assert.Len(t, plan.Broadcasts, 1)
}

func TestRoute_CommentDeleted(t *testing.T) {
	plan, err := Route(CommentDeleted{PollID: "p1", CommentID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, plan.Notifications)
	assert.Equal(t, []Dispatch{{
		Room:    "resource:p1",
		Event:   EventCommentDeleted,
		Payload: CommentDeletedPayload{PollID: "p1", CommentID: "c1"},
	}}, plan.Broadcasts)
}

func TestRoute_PollClosed(t *testing.T) {
	closedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	plan, err := Route(PollClosed{PollID: "p1", PollTitle: "Lunch?", CreatorID: "alice", Options: options, Automatic: true, ClosedAt: closedAt})
	require.NoError(t, err)

	require.Len(t, plan.Notifications, 1)
	assert.Equal(t, common.KindPollClosed, plan.Notifications[0].Kind)
	assert.Equal(t, "alice", plan.Notifications[0].RecipientID)
	assert.Empty(t, plan.Notifications[0].ActorID)

	require.Len(t, plan.Broadcasts, 2)
	assert.Equal(t, EventPollUpdate, plan.Broadcasts[0].Event)
	assert.Equal(t, common.PollClosed, plan.Broadcasts[0].Payload.(PollUpdatePayload).Status)
	assert.Equal(t, EventPollClosed, plan.Broadcasts[1].Event)
	assert.Equal(t, PollClosedPayload{PollID: "p1", Automatic: true, ClosedAt: closedAt}, plan.Broadcasts[1].Payload)
	for _, d := range plan.Broadcasts {
		assert.Equal(t, "resource:p1", d.Room)
	}
}

func TestRoute_PollClosedManually(t *testing.T) {
	closedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	plan, err := Route(PollClosed{PollID: "p1", CreatorID: "alice", ClosedBy: "alice", ClosedAt: closedAt})
	require.NoError(t, err)
	assert.Empty(t, plan.Notifications, "creator closed their own poll")
	assert.Len(t, plan.Broadcasts, 2)

	plan, err = Route(PollClosed{PollID: "p1", CreatorID: "alice", ClosedBy: "mod", ClosedAt: closedAt})
	require.NoError(t, err)
	require.Len(t, plan.Notifications, 1)
	assert.Equal(t, "mod", plan.Notifications[0].ActorID)

	// automatic closures ignore any actor
	plan, err = Route(PollClosed{PollID: "p1", CreatorID: "alice", ClosedBy: "alice", Automatic: true, ClosedAt: closedAt})
	require.NoError(t, err)
	assert.Len(t, plan.Notifications, 1)
}

func TestRoute_PollCreated(t *testing.T) {
	plan, err := Route(PollCreated{PollID: "p1", Title: "Lunch?", CreatorID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, plan.Notifications)
	require.Len(t, plan.Broadcasts, 1)
	assert.Equal(t, BroadcastRoom, plan.Broadcasts[0].Room)
	assert.Equal(t, EventNewPoll, plan.Broadcasts[0].Event)

	plan, err = Route(PollCreated{PollID: "p2", CreatorID: "alice", Draft: true})
	require.NoError(t, err)
	assert.Empty(t, plan.Broadcasts)
}

func TestRoute_NotificationRead(t *testing.T) {
	plan, err := Route(NotificationRead{RecipientID: "alice", IDs: []string{"n1"}, Count: 1})
	require.NoError(t, err)
	require.Len(t, plan.Broadcasts, 1)
	assert.Equal(t, "user:alice", plan.Broadcasts[0].Room)
	assert.Equal(t, EventNotificationRead, plan.Broadcasts[0].Event)

	_, err = Route(NotificationRead{RecipientID: "alice", All: true})
	assert.NoError(t, err)
}

func TestRoute_Invalid(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"nil", nil},
		{"vote without poll", VoteCast{CreatorID: "alice", VoterID: "bob"}},
		{"vote without voter", VoteCast{PollID: "p1", CreatorID: "alice"}},
		{"comment without id", CommentPosted{PollID: "p1", CreatorID: "alice", Comment: common.Comment{AuthorID: "bob"}}},
		{"comment on other poll", CommentPosted{PollID: "p1", CreatorID: "alice", Comment: common.Comment{ID: "c1", AuthorID: "bob", PollID: "p2"}}},
		{"negative likes", CommentLiked{PollID: "p1", CommentID: "c1", AuthorID: "a", LikerID: "b", Likes: -1}},
		{"closed without time", PollClosed{PollID: "p1", CreatorID: "alice"}},
		{"read without ids", NotificationRead{RecipientID: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Route(tt.ev)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestForNotification(t *testing.T) {
	d := ForNotification(&common.Notification{ID: "n1", RecipientID: "alice"})
	assert.Equal(t, "user:alice", d.Room)
	assert.Equal(t, EventNewNotification, d.Event)
}

func TestParseRoom(t *testing.T) {
	tests := []struct {
		room   string
		family RoomFamily
		id     string
	}{
		{"user:alice", RoomUser, "alice"},
		{"resource:p1", RoomResource, "p1"},
		{"*", RoomBroadcast, ""},
		{"user:", RoomInvalid, ""},
		{"poll:p1", RoomInvalid, ""},
		{"", RoomInvalid, ""},
	}
	for _, tt := range tests {
		family, id := ParseRoom(tt.room)
		assert.Equal(t, tt.family, family, tt.room)
		assert.Equal(t, tt.id, id, tt.room)
	}
}
