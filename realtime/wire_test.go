package realtime

import (
	"testing"
)

func TestEncodeDecodeFrame(t *testing.T) {
	raw, err := EncodeFrame(EventRoomJoined, RoomReply{Room: "guards", Rooms: []string{"guards"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"event":"room_joined","data":{"room":"guards","rooms":["guards"]}}` {
		t.Fatalf("unexpected wire form %s", raw)
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var reply RoomReply
	if err := frame.DecodeData(&reply); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if frame.Event != EventRoomJoined || reply.Room != "guards" {
		t.Fatalf("unexpected frame %+v %+v", frame, reply)
	}
}

func TestEncodeFrameWithoutData(t *testing.T) {
	raw, err := EncodeFrame(EventAuth, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(raw) != `{"event":"auth"}` {
		t.Fatalf("unexpected wire form %s", raw)
	}
	if _, err := EncodeFrame("  ", nil); err == nil {
		t.Fatalf("expected error for empty event name")
	}
}

func TestDecodeFrameRejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{``, `not json`, `[]`, `{"data":{}}`, `{"event":"  "}`} {
		if _, err := DecodeFrame([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFrameDecodeDataTolerance(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"event":"join_room","data":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req := RoomRequest{Room: "keep"}
	if err := frame.DecodeData(&req); err != nil || req.Room != "keep" {
		t.Fatalf("expected null data to leave target untouched, got %+v err=%v", req, err)
	}

	frame, _ = DecodeFrame([]byte(`{"event":"join_room","data":"guards"}`))
	if err := frame.DecodeData(&req); err == nil {
		t.Fatalf("expected error for mistyped data")
	}
}
