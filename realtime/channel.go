package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/ratelimit"
)

const (
	defaultAuthTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 64
	defaultReadLimit    = 64 << 10
)

type ChannelConfig struct {
	AuthTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	SendBuffer     int
	ReadLimit      int64
	OriginPatterns []string
}

// RoomPolicy decides whether principal may join room.
type RoomPolicy func(principal core.Principal, room core.RoomID) bool

// Channel is the websocket endpoint. Each connection gets a reader (the handler goroutine),
// a writer draining its bounded send queue, and an optional pinger.
type Channel struct {
	cfg        ChannelConfig
	registry   *Registry
	validator  core.TokenValidator
	dispatcher core.ClientEventDispatcher
	limiter    *ratelimit.KeyedLimiter
	observer   core.EventObserver
	roomPolicy RoomPolicy
	logger     core.Logger
	now        func() time.Time

	mu       sync.Mutex
	closing  bool
	stop     chan struct{}
	sessions sync.WaitGroup
}

type ChannelOption func(*Channel)

func WithClientEvents(dispatcher core.ClientEventDispatcher) ChannelOption {
	return func(c *Channel) {
		c.dispatcher = dispatcher
	}
}

func WithRateLimiter(limiter *ratelimit.KeyedLimiter) ChannelOption {
	return func(c *Channel) {
		c.limiter = limiter
	}
}

func WithChannelObserver(observer core.EventObserver) ChannelOption {
	return func(c *Channel) {
		if observer != nil {
			c.observer = observer
		}
	}
}

func WithRoomPolicy(policy RoomPolicy) ChannelOption {
	return func(c *Channel) {
		c.roomPolicy = policy
	}
}

func WithChannelLogger(logger core.Logger) ChannelOption {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewChannel(cfg ChannelConfig, registry *Registry, validator core.TokenValidator, opts ...ChannelOption) *Channel {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.PingInterval > 0 && cfg.PingTimeout <= 0 {
		cfg.PingTimeout = cfg.PingInterval
	}
	c := &Channel{
		cfg:       cfg,
		stop:      make(chan struct{}),
		registry:  registry,
		validator: validator,
		observer:  core.NopEventObserver{},
		logger:    core.ResolveLogger("realtime.channel", nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.enter() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer c.sessions.Done()

	var principal *core.Principal
	if token, present := bearerToken(r.Header); present {
		authCtx, cancelAuth := c.authContext(r.Context())
		validated, err := c.validate(authCtx, token)
		cancelAuth()
		if c.isClosing() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			core.LogWithLevel(r.Context(), c.logger, "warn", "realtime handshake rejected", map[string]any{
				"error": err.Error(),
				"code":  core.RelayErrorAuthRejected,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="guardrelay"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal = &validated
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: c.cfg.OriginPatterns,
	})
	if err != nil {
		core.LogWithLevel(r.Context(), c.logger, "warn", "realtime upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if principal == nil {
		authCtx, cancelAuth := c.authContext(ctx)
		validated, err := c.authenticateFirstFrame(authCtx, conn)
		cancelAuth()
		if c.isClosing() {
			_ = conn.Close(websocket.StatusGoingAway, string(CloseShutdown))
			return
		}
		if err != nil {
			core.LogWithLevel(ctx, c.logger, "warn", "realtime auth frame rejected", map[string]any{
				"error": err.Error(),
				"code":  core.RelayErrorAuthRejected,
			})
			_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
			return
		}
		principal = &validated
	}

	s := newSession(conn, c.cfg.SendBuffer)
	if !c.admit(s, principal) {
		_ = conn.Close(websocket.StatusGoingAway, string(CloseShutdown))
		return
	}
	defer func() {
		c.registry.Unregister(s.id)
		c.limiter.Forget(string(s.id))
		<-s.writerDone
	}()

	go c.writeLoop(ctx, s)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(ctx, s)
	}

	c.reply(ctx, s.id, EventAuthenticated, AuthenticatedReply{
		ConnectionID: string(s.id),
		UserID:       principal.ID,
		Role:         principal.Role,
	})
	c.readLoop(ctx, s, *principal)
}

// Shutdown refuses new connections and closes every live one with a going-away status.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.closing {
		c.closing = true
		close(c.stop)
	}
	c.mu.Unlock()

	c.registry.CloseAll(CloseShutdown)

	done := make(chan struct{})
	go func() {
		c.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.sessions.Add(1)
	return true
}

// admit registers s unless shutdown has begun. Holding c.mu across Register means a
// connection is either registered before CloseAll runs or refused.
func (c *Channel) admit(s *session, principal *core.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	s.id = c.registry.Register(s, principal)
	return true
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// authContext is cancelled when shutdown starts, so pending authentication does not hold
// Shutdown open.
func (c *Channel) authContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (c *Channel) validate(ctx context.Context, token string) (core.Principal, error) {
	if c.validator == nil {
		return core.Principal{}, core.NewError("token validator is not configured", goerrors.CategoryInternal, core.RelayErrorConfigurationDegraded, nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.Principal{}, core.ErrTokenRejected
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()
	principal, err := c.validator.ValidateToken(ctx, token)
	if err != nil {
		return core.Principal{}, err
	}
	if strings.TrimSpace(principal.ID) == "" {
		return core.Principal{}, core.ErrTokenRejected
	}
	return principal, nil
}

// authenticateFirstFrame waits up to AuthTimeout for {"event":"auth","data":{"token":...}}.
func (c *Channel) authenticateFirstFrame(ctx context.Context, conn *websocket.Conn) (core.Principal, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		return core.Principal{}, err
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return core.Principal{}, err
	}
	if frame.Event != EventAuth {
		return core.Principal{}, core.NewError("first frame must be auth", goerrors.CategoryAuth, core.RelayErrorAuthRejected, map[string]any{
			"event": frame.Event,
		})
	}
	var req AuthRequest
	if err := frame.DecodeData(&req); err != nil {
		return core.Principal{}, err
	}
	c.observer.ObserveEvent(ctx, core.EventTrace{Direction: core.DirectionInbound, Event: EventAuth, At: c.now()})
	return c.validate(ctx, req.Token)
}

func (c *Channel) readLoop(ctx context.Context, s *session, principal core.Principal) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && status != -1 {
				core.LogWithLevel(ctx, c.logger, "debug", "realtime connection closed", map[string]any{
					"connection_id": string(s.id),
					"status":        int(status),
				})
			}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			c.replyError(ctx, s.id, "", core.NewError(err.Error(), goerrors.CategoryBadInput, core.RelayErrorMalformedPayload, nil))
			continue
		}
		c.observer.ObserveEvent(ctx, core.EventTrace{
			Direction:    core.DirectionInbound,
			Event:        frame.Event,
			ConnectionID: s.id,
			At:           c.now(),
		})
		c.handleFrame(ctx, s.id, principal, frame)
	}
}

func (c *Channel) handleFrame(ctx context.Context, id core.ConnectionID, principal core.Principal, frame Frame) {
	switch frame.Event {
	case EventAuth:
		// Already authenticated; re-auth on a live connection is not supported.
		return
	case EventJoinRoom, EventLeaveRoom:
		c.handleRoom(ctx, id, principal, frame)
		return
	}

	if err := c.limiter.Allow(string(id), frame.Event); err != nil {
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			c.replyError(ctx, id, frame.Event, throttled.ToServiceError())
			return
		}
		c.replyError(ctx, id, frame.Event, core.MapError(err))
		return
	}
	if c.dispatcher == nil {
		return
	}
	handled, err := c.dispatcher.Dispatch(ctx, core.ClientEvent{
		Name:         frame.Event,
		ConnectionID: id,
		Principal:    principal,
		Data:         frame.Data,
		ReceivedAt:   c.now(),
	})
	if err != nil {
		core.LogWithLevel(ctx, c.logger, "warn", "client event failed", map[string]any{
			"connection_id": string(id),
			"event":         frame.Event,
			"error":         err.Error(),
		})
		c.replyError(ctx, id, frame.Event, core.MapError(err))
		return
	}
	if !handled {
		core.LogWithLevel(ctx, c.logger, "debug", "client event ignored", map[string]any{
			"connection_id": string(id),
			"event":         frame.Event,
		})
	}
}

func (c *Channel) handleRoom(ctx context.Context, id core.ConnectionID, principal core.Principal, frame Frame) {
	var req RoomRequest
	if err := frame.DecodeData(&req); err != nil {
		c.replyError(ctx, id, frame.Event, core.NewError(err.Error(), goerrors.CategoryBadInput, core.RelayErrorMalformedPayload, nil))
		return
	}
	room := core.RoomID(strings.TrimSpace(req.Room))

	var err error
	reply := EventRoomJoined
	if frame.Event == EventJoinRoom {
		if c.roomPolicy != nil && !c.roomPolicy(principal, room) {
			c.replyError(ctx, id, frame.Event, core.NewError("room not permitted", goerrors.CategoryAuthz, core.RelayErrorAuthRejected, map[string]any{
				"room": string(room),
			}))
			return
		}
		err = c.registry.JoinRoom(id, room)
	} else {
		reply = EventRoomLeft
		err = c.registry.LeaveRoom(id, room)
	}
	if err != nil {
		c.replyError(ctx, id, frame.Event, core.MapError(err))
		return
	}
	rooms := c.registry.Rooms(id)
	names := make([]string, 0, len(rooms))
	for _, joined := range rooms {
		names = append(names, string(joined))
	}
	c.reply(ctx, id, reply, RoomReply{Room: string(room), Rooms: names})
}

func (c *Channel) reply(ctx context.Context, id core.ConnectionID, event string, data any) {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return
	}
	if err := c.registry.SendTo(id, frame); err != nil {
		return
	}
	c.observer.ObserveEvent(ctx, core.EventTrace{
		Direction:    core.DirectionOutbound,
		Event:        event,
		ConnectionID: id,
		At:           c.now(),
	})
}

func (c *Channel) replyError(ctx context.Context, id core.ConnectionID, event string, err *goerrors.Error) {
	if err == nil {
		return
	}
	c.reply(ctx, id, EventError, ErrorReply{
		Code:    err.TextCode,
		Message: err.Message,
		Event:   event,
	})
}

func (c *Channel) writeLoop(ctx context.Context, s *session) {
	defer close(s.writerDone)
	for {
		select {
		case frame := <-s.send:
			if err := c.write(ctx, s, frame); err != nil {
				core.LogWithLevel(ctx, c.logger, "debug", "realtime write failed", map[string]any{
					"connection_id": string(s.id),
					"error":         err.Error(),
					"code":          core.RelayErrorTransportFailure,
				})
				_ = s.conn.CloseNow()
				c.registry.Unregister(s.id)
				return
			}
		case <-s.done:
			reason := s.closeReason()
			if reason == CloseShutdown {
				c.drain(ctx, s)
			}
			_ = s.conn.Close(closeStatus(reason), string(reason))
			return
		}
	}
}

// drain flushes frames queued before a shutdown so clients see the last events.
func (c *Channel) drain(ctx context.Context, s *session) {
	for {
		select {
		case frame := <-s.send:
			if err := c.write(ctx, s, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Channel) write(ctx context.Context, s *session, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, frame)
}

// pingLoop reaps connections whose peer stops answering pings.
func (c *Channel) pingLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				core.LogWithLevel(ctx, c.logger, "debug", "realtime ping failed", map[string]any{
					"connection_id": string(s.id),
					"error":         err.Error(),
				})
				c.registry.Unregister(s.id)
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func closeStatus(reason CloseReason) websocket.StatusCode {
	switch reason {
	case CloseShutdown:
		return websocket.StatusGoingAway
	case CloseSlowConsumer:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusNormalClosure
	}
}

// bearerToken only reads the Authorization header. Tokens in the query string are ignored
// so they never reach access logs.
func bearerToken(header http.Header) (string, bool) {
	value := strings.TrimSpace(header.Get("Authorization"))
	if value == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// session is the registry Handle for one websocket connection.
type session struct {
	id   core.ConnectionID
	conn *websocket.Conn
	send chan []byte

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	reasonMu   sync.Mutex
	reason     CloseReason
}

func newSession(conn *websocket.Conn, buffer int) *session {
	return &session{
		conn:       conn,
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *session) Enqueue(frame []byte) error {
	select {
	case <-s.done:
		return core.ErrConnectionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return core.ErrSlowConsumer
	}
}

func (s *session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.reasonMu.Lock()
		s.reason = reason
		s.reasonMu.Unlock()
		close(s.done)
	})
}

func (s *session) closeReason() CloseReason {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

var (
	_ Handle       = (*session)(nil)
	_ http.Handler = (*Channel)(nil)
)
