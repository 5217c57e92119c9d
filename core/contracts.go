package core

import (
	"context"
	"encoding/json"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ConnectionID identifies one live real-time connection.
type ConnectionID string

// RoomID partitions broadcast scope. Rooms are in-memory only.
type RoomID string

const (
	RoomOperators   RoomID = "operators"
	RoomSupervisors RoomID = "supervisors"
	RoomGuards      RoomID = "guards"
	RoomMinutes     RoomID = "minutes"
	RoomPriority    RoomID = "priority"
)

// Principal is the identity attached to a connection once its token is accepted.
type Principal struct {
	ID    string         `json:"id"`
	Name  string         `json:"name,omitempty"`
	Role  string         `json:"role,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// TokenValidator is the session collaborator. Implementations must honor ctx cancellation.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Principal, error)
}

type TokenValidatorFunc func(ctx context.Context, token string) (Principal, error)

func (f TokenValidatorFunc) ValidateToken(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

// IncomingMessage is one entry of a verified webhook's messages array.
type IncomingMessage struct {
	ID            string
	From          string
	Timestamp     string
	Type          string
	Text          string
	PhoneNumberID string
	DisplayPhone  string
	Raw           json.RawMessage
	ReceivedAt    time.Time
}

// DeliveryStatus is one entry of a verified webhook's statuses array.
// Status is passed through as received, including values outside the known set.
type DeliveryStatus struct {
	ID            string
	Status        string
	RecipientID   string
	Timestamp     string
	PhoneNumberID string
	Raw           json.RawMessage
	ReceivedAt    time.Time
}

const (
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusRead      = "read"
	DeliveryStatusFailed    = "failed"
)

func KnownDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusRead, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

type InboundEventKind string

const (
	InboundEventMessage InboundEventKind = "message"
	InboundEventStatus  InboundEventKind = "status"
)

// InboundEvent is the tagged union derived from a verified webhook body.
// Exactly one of Message or Status is set, according to Kind.
type InboundEvent struct {
	Kind    InboundEventKind
	Message *IncomingMessage
	Status  *DeliveryStatus
}

// MessageHandler is the persistence callback for verified inbound webhook events.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg IncomingMessage) error
	HandleStatus(ctx context.Context, status DeliveryStatus) error
}

// InboundMessageFilter narrows stored inbound messages. Zero values match everything.
type InboundMessageFilter struct {
	Sender string
	Type   string
	Since  time.Time
	Limit  int
	Offset int
}

type InboundMessagePage struct {
	Items []IncomingMessage
	Total int
}

type EventDirection string

const (
	DirectionInbound  EventDirection = "inbound"
	DirectionOutbound EventDirection = "outbound"
)

type EventTrace struct {
	Direction    EventDirection
	Event        string
	ConnectionID ConnectionID
	Room         RoomID
	At           time.Time
}

// EventObserver is invoked for every inbound and outbound real-time event.
type EventObserver interface {
	ObserveEvent(ctx context.Context, trace EventTrace)
}

type EventObserverFunc func(ctx context.Context, trace EventTrace)

func (f EventObserverFunc) ObserveEvent(ctx context.Context, trace EventTrace) {
	f(ctx, trace)
}

type NopEventObserver struct{}

func (NopEventObserver) ObserveEvent(context.Context, EventTrace) {}

// Publisher fans an outbound event out to its rooms.
type Publisher interface {
	Publish(ctx context.Context, event OutboundEvent) (PublishReport, error)
}

type PublishReport struct {
	Event     string
	Rooms     []RoomID
	Delivered int
	Failed    int
}
