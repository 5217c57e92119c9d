package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-guardrelay/core"
)

// InboundMessageReader is the read side of the inbound message store.
type InboundMessageReader interface {
	ListMessages(ctx context.Context, filter core.InboundMessageFilter) (core.InboundMessagePage, error)
	StatusHistory(ctx context.Context, messageID string) ([]core.DeliveryStatus, error)
}

type RoomReader interface {
	ConnectionsInRoom(room core.RoomID) []core.ConnectionID
}

type ListInboundMessagesQuery struct {
	reader InboundMessageReader
}

func NewListInboundMessagesQuery(reader InboundMessageReader) *ListInboundMessagesQuery {
	return &ListInboundMessagesQuery{reader: reader}
}

func (q *ListInboundMessagesQuery) Query(ctx context.Context, msg ListInboundMessagesMessage) (core.InboundMessagePage, error) {
	if q == nil || q.reader == nil {
		return core.InboundMessagePage{}, queryDependencyError("query: inbound message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.InboundMessagePage{}, err
	}
	return q.reader.ListMessages(ctx, msg.Filter)
}

type StatusHistoryQuery struct {
	reader InboundMessageReader
}

func NewStatusHistoryQuery(reader InboundMessageReader) *StatusHistoryQuery {
	return &StatusHistoryQuery{reader: reader}
}

func (q *StatusHistoryQuery) Query(ctx context.Context, msg StatusHistoryMessage) ([]core.DeliveryStatus, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: inbound message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.StatusHistory(ctx, strings.TrimSpace(msg.MessageID))
}

type RoomMembersQuery struct {
	reader RoomReader
}

func NewRoomMembersQuery(reader RoomReader) *RoomMembersQuery {
	return &RoomMembersQuery{reader: reader}
}

func (q *RoomMembersQuery) Query(_ context.Context, msg RoomMembersMessage) ([]core.ConnectionID, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: room reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ConnectionsInRoom(core.RoomID(strings.TrimSpace(string(msg.Room)))), nil
}
