package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/google/uuid"
)

// CloseReason tells a Handle why the registry released it.
type CloseReason string

const (
	CloseUnregistered CloseReason = "unregistered"
	CloseSlowConsumer CloseReason = "slow_consumer"
	CloseShutdown     CloseReason = "shutdown"
)

// Handle is the transport side of a registered connection.
// Enqueue must never block; Close must be idempotent.
type Handle interface {
	Enqueue(frame []byte) error
	Close(reason CloseReason)
}

// Connection is registry-owned state. Callers only ever see copies.
type Connection struct {
	ID        core.ConnectionID
	Identity  *core.Principal
	Rooms     map[core.RoomID]struct{}
	CreatedAt time.Time

	handle Handle
}

type FanoutReport struct {
	Room      core.RoomID
	Delivered []core.ConnectionID
	Failed    []core.ConnectionID
}

// Registry tracks live connections and room membership behind a single RW mutex.
// Fanout holds the read lock for the whole room, so join, leave and unregister
// cannot interleave with a broadcast.
type Registry struct {
	mu          sync.RWMutex
	connections map[core.ConnectionID]*Connection
	rooms       map[core.RoomID]map[core.ConnectionID]struct{}

	newID   func() core.ConnectionID
	now     func() time.Time
	logger  core.Logger
	metrics core.MetricsRecorder
}

type RegistryOption func(*Registry)

func WithRegistryLogger(logger core.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRegistryMetrics(metrics core.MetricsRecorder) RegistryOption {
	return func(r *Registry) {
		r.metrics = core.EnsureMetrics(metrics)
	}
}

func WithConnectionIDs(next func() core.ConnectionID) RegistryOption {
	return func(r *Registry) {
		if next != nil {
			r.newID = next
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		connections: map[core.ConnectionID]*Connection{},
		rooms:       map[core.RoomID]map[core.ConnectionID]struct{}{},
		newID: func() core.ConnectionID {
			return core.ConnectionID(uuid.NewString())
		},
		now: func() time.Time {
			return time.Now().UTC()
		},
		logger:  core.ResolveLogger("realtime.registry", nil, nil),
		metrics: core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register allocates a connection for handle. identity may be nil and attached later.
func (r *Registry) Register(handle Handle, identity *core.Principal) core.ConnectionID {
	r.mu.Lock()
	id := r.newID()
	for _, exists := r.connections[id]; exists; _, exists = r.connections[id] {
		id = r.newID()
	}
	r.connections[id] = &Connection{
		ID:        id,
		Identity:  clonePrincipal(identity),
		Rooms:     map[core.RoomID]struct{}{},
		CreatedAt: r.now(),
		handle:    handle,
	}
	total := len(r.connections)
	r.mu.Unlock()

	r.metrics.IncCounter(context.Background(), core.MetricRealtimeConnections, 1, map[string]string{"op": "register"})
	core.LogWithLevel(context.Background(), r.logger, "debug", "connection registered", map[string]any{
		"connection_id": string(id),
		"connections":   total,
	})
	return id
}

func (r *Registry) AttachIdentity(id core.ConnectionID, principal core.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	conn.Identity = clonePrincipal(&principal)
	return nil
}

// JoinRoom is idempotent.
func (r *Registry) JoinRoom(id core.ConnectionID, room core.RoomID) error {
	room, err := normalizeRoom(room)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	conn.Rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = map[core.ConnectionID]struct{}{}
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	return nil
}

// LeaveRoom is a no-op for rooms the connection never joined.
func (r *Registry) LeaveRoom(id core.ConnectionID, room core.RoomID) error {
	room, err := normalizeRoom(room)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	delete(conn.Rooms, room)
	r.dropMemberLocked(room, id)
	return nil
}

// Unregister removes the connection from every room and closes its handle.
// It reports whether the connection was still registered.
func (r *Registry) Unregister(id core.ConnectionID) bool {
	return r.remove(id, CloseUnregistered)
}

func (r *Registry) remove(id core.ConnectionID, reason CloseReason) bool {
	r.mu.Lock()
	conn, ok := r.connections[id]
	if ok {
		for room := range conn.Rooms {
			r.dropMemberLocked(room, id)
		}
		delete(r.connections, id)
	}
	total := len(r.connections)
	r.mu.Unlock()
	if !ok {
		return false
	}

	if conn.handle != nil {
		conn.handle.Close(reason)
	}
	r.metrics.IncCounter(context.Background(), core.MetricRealtimeConnections, 1, map[string]string{"op": "unregister"})
	core.LogWithLevel(context.Background(), r.logger, "debug", "connection unregistered", map[string]any{
		"connection_id": string(id),
		"reason":        string(reason),
		"connections":   total,
	})
	return true
}

func (r *Registry) dropMemberLocked(room core.RoomID, id core.ConnectionID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// ConnectionsInRoom returns a sorted copy of the room's members.
func (r *Registry) ConnectionsInRoom(room core.RoomID) []core.ConnectionID {
	r.mu.RLock()
	members := r.rooms[room]
	out := make([]core.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fanout enqueues frame for every member present when the read lock is taken. A member whose
// handle rejects the frame is skipped, then unregistered once the broadcast completes.
func (r *Registry) Fanout(room core.RoomID, frame []byte) FanoutReport {
	report := FanoutReport{Room: room}
	r.mu.RLock()
	for id := range r.rooms[room] {
		conn := r.connections[id]
		if conn == nil || conn.handle == nil {
			report.Failed = append(report.Failed, id)
			continue
		}
		if err := safeEnqueue(conn.handle, frame); err != nil {
			report.Failed = append(report.Failed, id)
			continue
		}
		report.Delivered = append(report.Delivered, id)
	}
	r.mu.RUnlock()

	for _, id := range report.Failed {
		r.remove(id, CloseSlowConsumer)
	}
	return report
}

// SendTo enqueues frame on one connection's private address.
func (r *Registry) SendTo(id core.ConnectionID, frame []byte) error {
	r.mu.RLock()
	conn, ok := r.connections[id]
	var handle Handle
	if ok {
		handle = conn.handle
	}
	r.mu.RUnlock()
	if !ok || handle == nil {
		return core.ErrConnectionNotFound
	}
	if err := safeEnqueue(handle, frame); err != nil {
		r.remove(id, CloseSlowConsumer)
		return err
	}
	return nil
}

func (r *Registry) Rooms(id core.ConnectionID) []core.RoomID {
	r.mu.RLock()
	conn, ok := r.connections[id]
	var out []core.RoomID
	if ok {
		out = make([]core.RoomID, 0, len(conn.Rooms))
		for room := range conn.Rooms {
			out = append(out, room)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Identity(id core.ConnectionID) (core.Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	if !ok || conn.Identity == nil {
		return core.Principal{}, false
	}
	return *clonePrincipal(conn.Identity), true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll releases every connection with reason and empties the registry.
func (r *Registry) CloseAll(reason CloseReason) int {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.connections))
	for _, conn := range r.connections {
		if conn.handle != nil {
			handles = append(handles, conn.handle)
		}
	}
	closed := len(r.connections)
	r.connections = map[core.ConnectionID]*Connection{}
	r.rooms = map[core.RoomID]map[core.ConnectionID]struct{}{}
	r.mu.Unlock()

	for _, handle := range handles {
		handle.Close(reason)
	}
	return closed
}

// safeEnqueue turns a panicking handle into an error so one broken transport cannot end a fanout.
func safeEnqueue(handle Handle, frame []byte) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("realtime: handle panicked: %v", recovered)
		}
	}()
	return handle.Enqueue(frame)
}

func normalizeRoom(room core.RoomID) (core.RoomID, error) {
	trimmed := core.RoomID(strings.TrimSpace(string(room)))
	if trimmed == "" {
		return "", core.NewError("room is required", goerrors.CategoryBadInput, core.RelayErrorBadInput, nil)
	}
	if len(trimmed) > maxRoomLength {
		return "", core.NewError("room name is too long", goerrors.CategoryBadInput, core.RelayErrorBadInput, map[string]any{
			"max_length": maxRoomLength,
		})
	}
	return trimmed, nil
}

func clonePrincipal(principal *core.Principal) *core.Principal {
	if principal == nil {
		return nil
	}
	copied := *principal
	if len(principal.Extra) > 0 {
		copied.Extra = make(map[string]any, len(principal.Extra))
		for key, value := range principal.Extra {
			copied.Extra[key] = value
		}
	}
	return &copied
}
