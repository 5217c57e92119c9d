package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventNewPanicAlert      = "new_panic_alert"
	EventPanicStatusUpdated = "panic_status_updated"
	EventBikeCheckedIn      = "bike_checked_in"
	EventBikeCheckedOut     = "bike_checked_out"
	EventNewMinute          = "new_minute"
	EventHighPriorityMinute = "high_priority_minute"
)

type OutboundKind string

const (
	PanicAlertRaised   OutboundKind = "panic_alert_raised"
	PanicStatusUpdated OutboundKind = "panic_status_updated"
	BikeCheckedIn      OutboundKind = "bike_checked_in"
	BikeCheckedOut     OutboundKind = "bike_checked_out"
	MinuteCreated      OutboundKind = "minute_created"
	HighPriorityMinute OutboundKind = "high_priority_minute"
)

const (
	PanicStatusActive       = "active"
	PanicStatusAcknowledged = "acknowledged"
	PanicStatusResolved     = "resolved"
)

const (
	MinutePriorityLow    = "low"
	MinutePriorityMedium = "medium"
	MinutePriorityHigh   = "high"
	MinutePriorityUrgent = "urgent"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type PanicAlert struct {
	ID        string    `json:"id"`
	GuardID   string    `json:"guard_id"`
	GuardName string    `json:"guard_name,omitempty"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status"`
	Location  *Location `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PanicStatusUpdate struct {
	AlertID   string    `json:"alert_id"`
	Status    string    `json:"status"`
	UpdatedBy string    `json:"updated_by"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BikeMovement struct {
	ID         string    `json:"id"`
	BikeID     string    `json:"bike_id"`
	BikeCode   string    `json:"bike_code,omitempty"`
	GuardID    string    `json:"guard_id"`
	GuardName  string    `json:"guard_name,omitempty"`
	Station    string    `json:"station,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Location   *Location `json:"location,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Minute struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Category    string    `json:"category,omitempty"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name,omitempty"`
	Location    *Location `json:"location,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// OutboundEvent is the tagged union fanned out by the router. Kind selects which payload
// field is populated.
type OutboundEvent struct {
	Kind        OutboundKind
	PanicAlert  *PanicAlert
	PanicStatus *PanicStatusUpdate
	Bike        *BikeMovement
	Minute      *Minute
}

func NewPanicAlertRaised(alert PanicAlert) OutboundEvent {
	return OutboundEvent{Kind: PanicAlertRaised, PanicAlert: &alert}
}

func NewPanicStatusUpdated(update PanicStatusUpdate) OutboundEvent {
	return OutboundEvent{Kind: PanicStatusUpdated, PanicStatus: &update}
}

func NewBikeCheckedIn(movement BikeMovement) OutboundEvent {
	return OutboundEvent{Kind: BikeCheckedIn, Bike: &movement}
}

func NewBikeCheckedOut(movement BikeMovement) OutboundEvent {
	return OutboundEvent{Kind: BikeCheckedOut, Bike: &movement}
}

func NewMinuteCreated(minute Minute) OutboundEvent {
	return OutboundEvent{Kind: MinuteCreated, Minute: &minute}
}

func NewHighPriorityMinute(minute Minute) OutboundEvent {
	return OutboundEvent{Kind: HighPriorityMinute, Minute: &minute}
}

// Name returns the wire event name for the event kind.
func (e OutboundEvent) Name() string {
	switch e.Kind {
	case PanicAlertRaised:
		return EventNewPanicAlert
	case PanicStatusUpdated:
		return EventPanicStatusUpdated
	case BikeCheckedIn:
		return EventBikeCheckedIn
	case BikeCheckedOut:
		return EventBikeCheckedOut
	case MinuteCreated:
		return EventNewMinute
	case HighPriorityMinute:
		return EventHighPriorityMinute
	default:
		return ""
	}
}

// Payload returns the populated payload for the event kind.
func (e OutboundEvent) Payload() (any, error) {
	var payload any
	switch e.Kind {
	case PanicAlertRaised:
		if e.PanicAlert != nil {
			payload = e.PanicAlert
		}
	case PanicStatusUpdated:
		if e.PanicStatus != nil {
			payload = e.PanicStatus
		}
	case BikeCheckedIn, BikeCheckedOut:
		if e.Bike != nil {
			payload = e.Bike
		}
	case MinuteCreated, HighPriorityMinute:
		if e.Minute != nil {
			payload = e.Minute
		}
	default:
		return nil, fmt.Errorf("core: unknown outbound event kind %q", e.Kind)
	}
	if payload == nil {
		return nil, fmt.Errorf("core: outbound event %q has no payload", e.Kind)
	}
	return payload, nil
}

// IsHighPriority reports whether a minute priority escalates to the priority room.
func IsHighPriority(priority string) bool {
	switch priority {
	case MinutePriorityHigh, MinutePriorityUrgent:
		return true
	default:
		return false
	}
}

// Client-originated domain events carrying partial payloads that are completed server-side.
const (
	ClientEventPanicAlert        = "panic_alert"
	ClientEventPanicStatusUpdate = "panic_status_update"
	ClientEventBikeCheckIn       = "bike_check_in"
	ClientEventBikeCheckOut      = "bike_check_out"
	ClientEventMinuteCreated     = "minute_created"
)

// ClientEvent is one inbound frame from an authenticated connection.
type ClientEvent struct {
	Name         string
	ConnectionID ConnectionID
	Principal    Principal
	Data         json.RawMessage
	ReceivedAt   time.Time
}

// ClientEventDispatcher routes client events to domain handlers. handled is false, with a nil
// error, for event names nobody registered.
type ClientEventDispatcher interface {
	Dispatch(ctx context.Context, event ClientEvent) (handled bool, err error)
}
