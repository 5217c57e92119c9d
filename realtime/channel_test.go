package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/ratelimit"
)

var testTokens = map[string]core.Principal{
	"guard-token":    {ID: "g-1", Name: "Gate Guard", Role: "guard"},
	"operator-token": {ID: "o-1", Name: "Desk", Role: "operator"},
}

func testValidator() core.TokenValidator {
	return core.TokenValidatorFunc(func(_ context.Context, token string) (core.Principal, error) {
		principal, ok := testTokens[token]
		if !ok {
			return core.Principal{}, core.ErrTokenRejected
		}
		return principal, nil
	})
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []core.ClientEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event core.ClientEvent) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return true, d.err
}

func (d *recordingDispatcher) snapshot() []core.ClientEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.ClientEvent(nil), d.events...)
}

type channelFixture struct {
	registry *Registry
	router   *Router
	channel  *Channel
	server   *httptest.Server
}

func newChannelFixture(t *testing.T, cfg ChannelConfig, opts ...ChannelOption) *channelFixture {
	t.Helper()
	registry := NewRegistry()
	channel := NewChannel(cfg, registry, testValidator(), opts...)
	server := httptest.NewServer(channel)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = channel.Shutdown(ctx)
		server.Close()
	})
	return &channelFixture{
		registry: registry,
		router:   NewRouter(registry),
		channel:  channel,
		server:   server,
	}
}

func (f *channelFixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http"), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.CloseNow()
	})
	return conn
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := EncodeFrame(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, want websocket.StatusCode) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != want {
			t.Fatalf("expected close status %d, got %d (%v)", want, status, err)
		}
		return
	}
}

func authenticate(t *testing.T, conn *websocket.Conn) AuthenticatedReply {
	t.Helper()
	frame := receive(t, conn)
	if frame.Event != EventAuthenticated {
		t.Fatalf("expected authenticated frame, got %s", frame.Event)
	}
	var reply AuthenticatedReply
	if err := frame.DecodeData(&reply); err != nil {
		t.Fatalf("decode auth reply: %v", err)
	}
	return reply
}

func join(t *testing.T, conn *websocket.Conn, room core.RoomID) {
	t.Helper()
	send(t, conn, EventJoinRoom, RoomRequest{Room: string(room)})
	frame := receive(t, conn)
	if frame.Event != EventRoomJoined {
		t.Fatalf("expected room_joined, got %s %s", frame.Event, frame.Data)
	}
}

func TestChannel_HeaderAuthRejectedBeforeUpgrade(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, header := range []http.Header{bearer("forged"), {"Authorization": []string{"Basic abc"}}} {
		_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http"), &websocket.DialOptions{HTTPHeader: header})
		if err == nil {
			t.Fatalf("expected dial to fail for %v", header)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %+v", resp)
		}
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected no registered connections, got %d", f.registry.Len())
	}
}

func TestChannel_HeaderAuthRegistersWithoutRooms(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	conn := f.dial(t, bearer("guard-token"))
	reply := authenticate(t, conn)
	if reply.UserID != "g-1" || reply.Role != "guard" || reply.ConnectionID == "" {
		t.Fatalf("unexpected auth reply %+v", reply)
	}

	id := core.ConnectionID(reply.ConnectionID)
	if rooms := f.registry.Rooms(id); len(rooms) != 0 {
		t.Fatalf("expected no rooms after connect, got %v", rooms)
	}
	principal, ok := f.registry.Identity(id)
	if !ok || principal.ID != "g-1" {
		t.Fatalf("expected identity attached at registration, got %+v", principal)
	}
}

func TestChannel_FirstFrameAuth(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{AuthTimeout: time.Second})
	conn := f.dial(t, nil)
	send(t, conn, EventAuth, AuthRequest{Token: "operator-token"})
	reply := authenticate(t, conn)
	if reply.UserID != "o-1" {
		t.Fatalf("unexpected auth reply %+v", reply)
	}
}

func TestChannel_FirstFrameAuthFailureClosesWithPolicyViolation(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{AuthTimeout: time.Second})

	bad := f.dial(t, nil)
	send(t, bad, EventAuth, AuthRequest{Token: "forged"})
	expectClose(t, bad, websocket.StatusPolicyViolation)

	wrongEvent := f.dial(t, nil)
	send(t, wrongEvent, EventJoinRoom, RoomRequest{Room: "operators"})
	expectClose(t, wrongEvent, websocket.StatusPolicyViolation)

	if f.registry.Len() != 0 {
		t.Fatalf("expected rejected sockets to never register, got %d", f.registry.Len())
	}
}

func TestChannel_AuthTimeoutIgnoresQueryToken(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{AuthTimeout: 100 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http")+"?token=guard-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	expectClose(t, conn, websocket.StatusPolicyViolation)
}

func TestChannel_RoomScopedDelivery(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	guard := f.dial(t, bearer("guard-token"))
	authenticate(t, guard)
	operator := f.dial(t, bearer("operator-token"))
	authenticate(t, operator)

	join(t, guard, core.RoomGuards)
	join(t, operator, core.RoomOperators)

	ctx := context.Background()
	if _, err := f.router.Publish(ctx, core.NewBikeCheckedIn(core.BikeMovement{ID: "b-1", BikeID: "bike-4", GuardID: "g-1"})); err != nil {
		t.Fatalf("publish bike: %v", err)
	}
	if _, err := f.router.Publish(ctx, core.NewPanicAlertRaised(core.PanicAlert{ID: "a-1", GuardID: "g-1", Status: core.PanicStatusActive})); err != nil {
		t.Fatalf("publish alert: %v", err)
	}

	if frame := receive(t, guard); frame.Event != core.EventBikeCheckedIn {
		t.Fatalf("guard expected bike event, got %s", frame.Event)
	}
	frame := receive(t, operator)
	if frame.Event != core.EventNewPanicAlert {
		t.Fatalf("operator expected panic alert first, got %s", frame.Event)
	}
	var alert core.PanicAlert
	if err := json.Unmarshal(frame.Data, &alert); err != nil || alert.ID != "a-1" {
		t.Fatalf("unexpected alert payload %s err=%v", frame.Data, err)
	}
}

func TestChannel_LeaveRoomStopsDelivery(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	conn := f.dial(t, bearer("operator-token"))
	authenticate(t, conn)
	join(t, conn, core.RoomMinutes)
	join(t, conn, core.RoomPriority)

	send(t, conn, EventLeaveRoom, RoomRequest{Room: string(core.RoomMinutes)})
	frame := receive(t, conn)
	if frame.Event != EventRoomLeft {
		t.Fatalf("expected room_left, got %s", frame.Event)
	}
	var reply RoomReply
	_ = frame.DecodeData(&reply)
	if len(reply.Rooms) != 1 || reply.Rooms[0] != string(core.RoomPriority) {
		t.Fatalf("unexpected remaining rooms %v", reply.Rooms)
	}

	ctx := context.Background()
	if _, err := f.router.Publish(ctx, core.NewMinuteCreated(core.Minute{ID: "m-1", Priority: core.MinutePriorityLow})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := f.router.Publish(ctx, core.NewHighPriorityMinute(core.Minute{ID: "m-2", Priority: core.MinutePriorityUrgent})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if frame := receive(t, conn); frame.Event != core.EventHighPriorityMinute {
		t.Fatalf("expected only the priority event, got %s", frame.Event)
	}
}

func TestChannel_InvalidRoomRepliesWithError(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{}, WithRoomPolicy(func(principal core.Principal, room core.RoomID) bool {
		return room != core.RoomSupervisors || principal.Role == "supervisor"
	}))
	conn := f.dial(t, bearer("guard-token"))
	authenticate(t, conn)

	for _, room := range []string{"", string(core.RoomSupervisors)} {
		send(t, conn, EventJoinRoom, RoomRequest{Room: room})
		frame := receive(t, conn)
		if frame.Event != EventError {
			t.Fatalf("room %q: expected error reply, got %s", room, frame.Event)
		}
	}
}

func TestChannel_ClientEventsAreDispatchedAndRateLimited(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	f := newChannelFixture(t, ChannelConfig{},
		WithClientEvents(dispatcher),
		WithRateLimiter(ratelimit.NewKeyedLimiter(0.001, 1)),
	)
	conn := f.dial(t, bearer("guard-token"))
	reply := authenticate(t, conn)

	send(t, conn, core.ClientEventPanicAlert, map[string]any{"message": "help"})
	send(t, conn, core.ClientEventPanicAlert, map[string]any{"message": "again"})

	frame := receive(t, conn)
	if frame.Event != EventError {
		t.Fatalf("expected throttled error reply, got %s", frame.Event)
	}
	var errReply ErrorReply
	_ = frame.DecodeData(&errReply)
	if errReply.Code != core.RelayErrorRateLimited || errReply.Event != core.ClientEventPanicAlert {
		t.Fatalf("unexpected error reply %+v", errReply)
	}

	events := dispatcher.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one dispatched event, got %d", len(events))
	}
	if events[0].Principal.ID != "g-1" || string(events[0].ConnectionID) != reply.ConnectionID {
		t.Fatalf("unexpected dispatched event %+v", events[0])
	}
}

func TestChannel_DispatchErrorIsReported(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("publish failed")}
	f := newChannelFixture(t, ChannelConfig{}, WithClientEvents(dispatcher))
	conn := f.dial(t, bearer("guard-token"))
	authenticate(t, conn)

	send(t, conn, core.ClientEventMinuteCreated, map[string]any{"title": "x"})
	frame := receive(t, conn)
	if frame.Event != EventError {
		t.Fatalf("expected error reply, got %s", frame.Event)
	}
}

func TestChannel_ObserverSeesInboundFrames(t *testing.T) {
	var mu sync.Mutex
	var inbound []string
	observer := core.EventObserverFunc(func(_ context.Context, trace core.EventTrace) {
		if trace.Direction != core.DirectionInbound {
			return
		}
		mu.Lock()
		inbound = append(inbound, trace.Event)
		mu.Unlock()
	})
	f := newChannelFixture(t, ChannelConfig{}, WithChannelObserver(observer))
	conn := f.dial(t, bearer("guard-token"))
	authenticate(t, conn)
	join(t, conn, core.RoomGuards)

	mu.Lock()
	defer mu.Unlock()
	if len(inbound) != 1 || inbound[0] != EventJoinRoom {
		t.Fatalf("unexpected inbound traces %v", inbound)
	}
}

func TestChannel_DisconnectRemovesMembership(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	conn := f.dial(t, bearer("guard-token"))
	reply := authenticate(t, conn)
	join(t, conn, core.RoomGuards)

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected connection %s to be unregistered", reply.ConnectionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	report, err := f.router.Publish(context.Background(), core.NewBikeCheckedIn(core.BikeMovement{ID: "b-1"}))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if report.Delivered != 0 || report.Failed != 0 {
		t.Fatalf("expected no recipients after disconnect, got %+v", report)
	}
}

func TestChannel_ShutdownClosesWithGoingAway(t *testing.T) {
	f := newChannelFixture(t, ChannelConfig{})
	conn := f.dial(t, bearer("guard-token"))
	authenticate(t, conn)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		done <- f.channel.Shutdown(ctx)
	}()
	expectClose(t, conn, websocket.StatusGoingAway)
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	resp, err := http.Get(f.server.URL)
	if err != nil {
		t.Fatalf("get after shutdown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", resp.StatusCode)
	}
}

func waitForClosing(t *testing.T, channel *Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !channel.isClosing() {
		if time.Now().After(deadline) {
			t.Fatalf("shutdown never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChannel_ShutdownDuringHeaderAuthDoesNotRegister(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	validator := core.TokenValidatorFunc(func(_ context.Context, token string) (core.Principal, error) {
		close(entered)
		<-release
		return testTokens[token], nil
	})
	registry := NewRegistry()
	channel := NewChannel(ChannelConfig{}, registry, validator)
	server := httptest.NewServer(channel)
	defer server.Close()

	dialed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), &websocket.DialOptions{
			HTTPHeader: bearer("guard-token"),
		})
		if conn != nil {
			conn.CloseNow()
		}
		dialed <- err
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- channel.Shutdown(ctx)
	}()
	waitForClosing(t, channel)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("shutdown should finish once the pending handshake is refused: %v", err)
	}
	if err := <-dialed; err == nil {
		t.Fatalf("expected handshake to be refused during shutdown")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no registrations after shutdown, got %d", registry.Len())
	}
}

func TestChannel_ShutdownCancelsPendingFirstFrameAuth(t *testing.T) {
	entered := make(chan struct{})
	validator := core.TokenValidatorFunc(func(ctx context.Context, _ string) (core.Principal, error) {
		close(entered)
		<-ctx.Done()
		return core.Principal{}, ctx.Err()
	})
	registry := NewRegistry()
	channel := NewChannel(ChannelConfig{AuthTimeout: 10 * time.Second}, registry, validator)
	server := httptest.NewServer(channel)
	defer server.Close()
	f := &channelFixture{registry: registry, channel: channel, server: server}

	conn := f.dial(t, nil)
	send(t, conn, EventAuth, AuthRequest{Token: "guard-token"})
	<-entered

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- channel.Shutdown(ctx)
	}()
	expectClose(t, conn, websocket.StatusGoingAway)
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no registrations after shutdown, got %d", registry.Len())
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		present bool
	}{
		{"", "", false},
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
	}
	for _, tc := range cases {
		header := http.Header{}
		if tc.header != "" {
			header.Set("Authorization", tc.header)
		}
		token, present := bearerToken(header)
		if token != tc.token || present != tc.present {
			t.Fatalf("%q: expected (%q,%t), got (%q,%t)", tc.header, tc.token, tc.present, token, present)
		}
	}
}
