package router

import (
	"fmt"

	"pollcast/internal/common"
)

// Dispatch is one push: event name and payload sent to every member of Room.
type Dispatch struct {
	Room    string      `json:"room"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Intent asks for a durable notification. Routing never emits an intent whose
// actor is also its recipient.
type Intent struct {
	Kind        common.NotificationKind
	RecipientID string
	// ActorID is empty for system-originated notifications.
	ActorID string
	Context common.NotificationContext
}

// Plan is everything an event causes. Notifications are persisted first and
// each is pushed to its recipient's personal room; Broadcasts go out after.
type Plan struct {
	Notifications []Intent
	Broadcasts    []Dispatch
}

// Route validates ev and maps it to its plan.
func Route(ev Event) (Plan, error) {
	if ev == nil {
		return Plan{}, fmt.Errorf("%w: nil event", common.ErrInvalidInput)
	}
	if err := ev.Validate(); err != nil {
		return Plan{}, fmt.Errorf("invalid %s event: %w", ev.Name(), err)
	}

	var plan Plan
	switch e := ev.(type) {
	case VoteCast:
		plan.notify(common.KindVote, e.CreatorID, e.VoterID, common.NotificationContext{
			PollID:    e.PollID,
			PollTitle: e.PollTitle,
			ActorName: e.VoterName,
		})
		plan.broadcast(ResourceRoom(e.PollID), EventPollUpdate, pollUpdate(e.PollID, e.Status, e.ShowResults, e.Options))

	case CommentPosted:
		kind := common.KindComment
		if e.IsReply() {
			kind = common.KindReply
		}
		comment := e.Comment
		comment.PollID = e.PollID
		plan.notify(kind, e.CreatorID, comment.AuthorID, common.NotificationContext{
			PollID:    e.PollID,
			PollTitle: e.PollTitle,
			CommentID: comment.ID,
			ActorName: comment.AuthorName,
		})
		plan.broadcast(ResourceRoom(e.PollID), EventNewComment, NewCommentPayload{PollID: e.PollID, Comment: comment})

	case CommentLiked:
		if !e.Unliked {
			plan.notify(common.KindCommentLike, e.AuthorID, e.LikerID, common.NotificationContext{
				PollID:    e.PollID,
				PollTitle: e.PollTitle,
				CommentID: e.CommentID,
				ActorName: e.LikerName,
			})
		}
		plan.broadcast(ResourceRoom(e.PollID), EventCommentLikeUpdate, CommentLikePayload{
			PollID:    e.PollID,
			CommentID: e.CommentID,
			Likes:     e.Likes,
		})

	case CommentDeleted:
		plan.broadcast(ResourceRoom(e.PollID), EventCommentDeleted, CommentDeletedPayload{
			PollID:    e.PollID,
			CommentID: e.CommentID,
		})

	case PollClosed:
		// an automatic closure has no actor, so the creator always hears of it
		actor := e.ClosedBy
		if e.Automatic {
			actor = ""
		}
		plan.notify(common.KindPollClosed, e.CreatorID, actor, common.NotificationContext{
			PollID:    e.PollID,
			PollTitle: e.PollTitle,
		})
		room := ResourceRoom(e.PollID)
		plan.broadcast(room, EventPollUpdate, pollUpdate(e.PollID, common.PollClosed, e.ShowResults, e.Options))
		plan.broadcast(room, EventPollClosed, PollClosedPayload{
			PollID:    e.PollID,
			Automatic: e.Automatic,
			ClosedAt:  e.ClosedAt,
		})

	case PollCreated:
		if e.Draft {
			break
		}
		plan.broadcast(BroadcastRoom, EventNewPoll, NewPollPayload{
			PollID:      e.PollID,
			Title:       e.Title,
			CreatorID:   e.CreatorID,
			CreatorName: e.CreatorName,
			CreatedAt:   e.CreatedAt,
		})

	case NotificationRead:
		plan.broadcast(UserRoom(e.RecipientID), EventNotificationRead, NotificationReadPayload{
			IDs:    e.IDs,
			All:    e.All,
			Count:  e.Count,
			ReadAt: e.ReadAt,
		})

	default:
		return Plan{}, fmt.Errorf("%w: unknown event %s", common.ErrInvalidInput, ev.Name())
	}
	return plan, nil
}

// ForNotification is the push announcing a freshly stored record.
func ForNotification(n *common.Notification) Dispatch {
	return Dispatch{
		Room:    UserRoom(n.RecipientID),
		Event:   EventNewNotification,
		Payload: n,
	}
}

func (p *Plan) notify(kind common.NotificationKind, recipientID, actorID string, ctx common.NotificationContext) {
	if recipientID == "" || recipientID == actorID {
		return
	}
	p.Notifications = append(p.Notifications, Intent{
		Kind:        kind,
		RecipientID: recipientID,
		ActorID:     actorID,
		Context:     ctx,
	})
}

func (p *Plan) broadcast(room, event string, payload interface{}) {
	p.Broadcasts = append(p.Broadcasts, Dispatch{Room: room, Event: event, Payload: payload})
}

// pollUpdate only exposes per-option tallies when results are public.
func pollUpdate(pollID string, status common.PollStatus, showResults bool, options []common.PollOption) PollUpdatePayload {
	payload := PollUpdatePayload{
		PollID: pollID,
		Status: status,
	}
	for _, o := range options {
		payload.TotalVotes += o.Votes
	}
	if showResults {
		payload.Options = append([]common.PollOption(nil), options...)
	}
	return payload
}
