package query

import (
	"strings"

	"github.com/goliatone/go-guardrelay/core"
)

const (
	TypeListInboundMessages = "guardrelay.query.inbound_messages.list"
	TypeStatusHistory       = "guardrelay.query.delivery_status.history"
	TypeRoomMembers         = "guardrelay.query.room.members"

	maxPageSize = 200
)

type ListInboundMessagesMessage struct {
	Filter core.InboundMessageFilter
}

func (ListInboundMessagesMessage) Type() string { return TypeListInboundMessages }

func (m ListInboundMessagesMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "must be >= 0")
	}
	if m.Filter.Limit > maxPageSize {
		return queryValidationError("limit", "must be <= 200")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "must be >= 0")
	}
	return nil
}

type StatusHistoryMessage struct {
	MessageID string
}

func (StatusHistoryMessage) Type() string { return TypeStatusHistory }

func (m StatusHistoryMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return queryValidationError("message_id", "is required")
	}
	return nil
}

type RoomMembersMessage struct {
	Room core.RoomID
}

func (RoomMembersMessage) Type() string { return TypeRoomMembers }

func (m RoomMembersMessage) Validate() error {
	if strings.TrimSpace(string(m.Room)) == "" {
		return queryValidationError("room", "is required")
	}
	return nil
}
