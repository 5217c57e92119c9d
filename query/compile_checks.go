package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-guardrelay/core"
)

var (
	_ gocmd.Querier[ListInboundMessagesMessage, core.InboundMessagePage] = (*ListInboundMessagesQuery)(nil)
	_ gocmd.Querier[StatusHistoryMessage, []core.DeliveryStatus]          = (*StatusHistoryQuery)(nil)
	_ gocmd.Querier[RoomMembersMessage, []core.ConnectionID]              = (*RoomMembersQuery)(nil)
)
