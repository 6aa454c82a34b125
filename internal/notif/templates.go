package notif

import (
	"fmt"

	"pollcast/internal/common"
)

const defaultMessage = "You have a new notification"

// MessageFor renders the text stored with a notification. It runs once, at
// creation; stored messages are never re-rendered.
func MessageFor(kind common.NotificationKind, ctx common.NotificationContext) string {
	actor := ctx.ActorName
	if actor == "" {
		actor = "Someone"
	}
	title := ctx.PollTitle
	if title == "" {
		title = "untitled"
	}

	switch kind {
	case common.KindVote:
		return fmt.Sprintf("%s voted on your poll \"%s\"", actor, title)
	case common.KindComment:
		return fmt.Sprintf("%s commented on your poll \"%s\"", actor, title)
	case common.KindReply:
		return fmt.Sprintf("%s replied to a comment on your poll \"%s\"", actor, title)
	case common.KindCommentLike:
		return fmt.Sprintf("%s liked your comment on \"%s\"", actor, title)
	case common.KindPollCreated:
		return fmt.Sprintf("%s created a new poll \"%s\"", actor, title)
	case common.KindPollClosed:
		return fmt.Sprintf("Your poll \"%s\" has been closed", title)
	default:
		if ctx.Message != "" {
			return ctx.Message
		}
		return defaultMessage
	}
}
