package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RaisePanicAlertMessage]   = (*RaisePanicAlertCommand)(nil)
	_ gocmd.Commander[UpdatePanicStatusMessage] = (*UpdatePanicStatusCommand)(nil)
	_ gocmd.Commander[CheckInBikeMessage]       = (*CheckInBikeCommand)(nil)
	_ gocmd.Commander[CheckOutBikeMessage]      = (*CheckOutBikeCommand)(nil)
	_ gocmd.Commander[CreateMinuteMessage]      = (*CreateMinuteCommand)(nil)
)
