package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Client control events. Any other event name is forwarded to the inbound dispatcher.
const (
	EventAuth      = "auth"
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
)

// Server replies sent on a connection's private address.
const (
	EventAuthenticated = "authenticated"
	EventRoomJoined    = "room_joined"
	EventRoomLeft      = "room_left"
	EventError         = "error"
)

const maxRoomLength = 64

// Frame is the envelope for every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type AuthRequest struct {
	Token string `json:"token"`
}

type RoomRequest struct {
	Room string `json:"room"`
}

type AuthenticatedReply struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

type RoomReply struct {
	Room  string   `json:"room"`
	Rooms []string `json:"rooms"`
}

type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func EncodeFrame(event string, data any) ([]byte, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, fmt.Errorf("realtime: event name is required")
	}
	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("realtime: encode %s payload: %w", event, err)
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(bytes.TrimSpace(raw), &frame); err != nil {
		return Frame{}, fmt.Errorf("realtime: invalid frame: %w", err)
	}
	frame.Event = strings.TrimSpace(frame.Event)
	if frame.Event == "" {
		return Frame{}, fmt.Errorf("realtime: frame event is required")
	}
	return frame, nil
}

// DecodeData unmarshals a frame's data into target. Missing data leaves target untouched.
func (f Frame) DecodeData(target any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return fmt.Errorf("realtime: invalid %s payload: %w", f.Event, err)
	}
	return nil
}
