package command

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/inbound"
)

type panicAlertPayload struct {
	Message  string         `json:"message"`
	Location *core.Location `json:"location"`
}

type panicStatusPayload struct {
	AlertID string `json:"alert_id"`
	Status  string `json:"status"`
	Note    string `json:"note"`
}

type bikeMovementPayload struct {
	BikeID   string         `json:"bike_id"`
	BikeCode string         `json:"bike_code"`
	Station  string         `json:"station"`
	Notes    string         `json:"notes"`
	Location *core.Location `json:"location"`
}

type minutePayload struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Category    string         `json:"category"`
	Location    *core.Location `json:"location"`
}

// ClientHandlers maps each client event name onto its command. The authenticated principal
// always comes from the connection, never from the payload.
func ClientHandlers(set Set) []inbound.Handler {
	return []inbound.Handler{
		inbound.HandlerFunc{Name: core.ClientEventPanicAlert, Fn: func(ctx context.Context, event core.ClientEvent) error {
			var payload panicAlertPayload
			if err := decodeClientPayload(event, &payload); err != nil {
				return err
			}
			return set.RaisePanicAlert.Execute(ctx, RaisePanicAlertMessage{
				Principal: event.Principal,
				Message:   payload.Message,
				Location:  payload.Location,
			})
		}},
		inbound.HandlerFunc{Name: core.ClientEventPanicStatusUpdate, Fn: func(ctx context.Context, event core.ClientEvent) error {
			var payload panicStatusPayload
			if err := decodeClientPayload(event, &payload); err != nil {
				return err
			}
			return set.UpdatePanicStatus.Execute(ctx, UpdatePanicStatusMessage{
				Principal: event.Principal,
				AlertID:   payload.AlertID,
				Status:    payload.Status,
				Note:      payload.Note,
			})
		}},
		inbound.HandlerFunc{Name: core.ClientEventBikeCheckIn, Fn: func(ctx context.Context, event core.ClientEvent) error {
			var payload bikeMovementPayload
			if err := decodeClientPayload(event, &payload); err != nil {
				return err
			}
			return set.CheckInBike.Execute(ctx, CheckInBikeMessage{BikeMovementMessage: payload.message(event.Principal)})
		}},
		inbound.HandlerFunc{Name: core.ClientEventBikeCheckOut, Fn: func(ctx context.Context, event core.ClientEvent) error {
			var payload bikeMovementPayload
			if err := decodeClientPayload(event, &payload); err != nil {
				return err
			}
			return set.CheckOutBike.Execute(ctx, CheckOutBikeMessage{BikeMovementMessage: payload.message(event.Principal)})
		}},
		inbound.HandlerFunc{Name: core.ClientEventMinuteCreated, Fn: func(ctx context.Context, event core.ClientEvent) error {
			var payload minutePayload
			if err := decodeClientPayload(event, &payload); err != nil {
				return err
			}
			return set.CreateMinute.Execute(ctx, CreateMinuteMessage{
				Principal:   event.Principal,
				Title:       payload.Title,
				Description: payload.Description,
				Priority:    payload.Priority,
				Category:    payload.Category,
				Location:    payload.Location,
			})
		}},
	}
}

// RegisterClientHandlers registers every client handler on dispatcher.
func RegisterClientHandlers(dispatcher *inbound.Dispatcher, set Set) error {
	for _, handler := range ClientHandlers(set) {
		if err := dispatcher.Register(handler); err != nil {
			return err
		}
	}
	return nil
}

func (p bikeMovementPayload) message(principal core.Principal) BikeMovementMessage {
	return BikeMovementMessage{
		Principal: principal,
		BikeID:    p.BikeID,
		BikeCode:  p.BikeCode,
		Station:   p.Station,
		Notes:     p.Notes,
		Location:  p.Location,
	}
}

func decodeClientPayload(event core.ClientEvent, target any) error {
	if len(event.Data) == 0 || string(event.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(event.Data, target); err != nil {
		return commandMalformedPayloadError(err, event.Name)
	}
	return nil
}
