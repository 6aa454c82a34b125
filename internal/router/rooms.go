package router

import (
	"strings"
)

// BroadcastRoom addresses every live connection.
const BroadcastRoom = "*"

const (
	userPrefix     = "user:"
	resourcePrefix = "resource:"
)

type RoomFamily int

const (
	RoomInvalid RoomFamily = iota
	RoomUser
	RoomResource
	RoomBroadcast
)

func UserRoom(userID string) string {
	return userPrefix + userID
}

func ResourceRoom(pollID string) string {
	return resourcePrefix + pollID
}

// ParseRoom splits a room id into its family and the id it is scoped to.
func ParseRoom(room string) (RoomFamily, string) {
	switch {
	case room == BroadcastRoom:
		return RoomBroadcast, ""
	case strings.HasPrefix(room, userPrefix) && len(room) > len(userPrefix):
		return RoomUser, strings.TrimPrefix(room, userPrefix)
	case strings.HasPrefix(room, resourcePrefix) && len(room) > len(resourcePrefix):
		return RoomResource, strings.TrimPrefix(room, resourcePrefix)
	}
	return RoomInvalid, ""
}
