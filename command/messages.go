package command

import (
	"strings"

	"github.com/goliatone/go-guardrelay/core"
)

const (
	TypeRaisePanicAlert   = "guardrelay.command.panic_alert.raise"
	TypeUpdatePanicStatus = "guardrelay.command.panic_alert.update_status"
	TypeCheckInBike       = "guardrelay.command.bike.check_in"
	TypeCheckOutBike      = "guardrelay.command.bike.check_out"
	TypeCreateMinute      = "guardrelay.command.minute.create"
)

const maxTextLength = 2000

type RaisePanicAlertMessage struct {
	Principal core.Principal
	Message   string
	Location  *core.Location
}

func (RaisePanicAlertMessage) Type() string { return TypeRaisePanicAlert }

func (m RaisePanicAlertMessage) Validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	if len(m.Message) > maxTextLength {
		return commandValidationError("message", "message is too long")
	}
	return validateLocation(m.Location)
}

type UpdatePanicStatusMessage struct {
	Principal core.Principal
	AlertID   string
	Status    string
	Note      string
}

func (UpdatePanicStatusMessage) Type() string { return TypeUpdatePanicStatus }

func (m UpdatePanicStatusMessage) Validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	if strings.TrimSpace(m.AlertID) == "" {
		return commandValidationError("alert_id", "alert id is required")
	}
	switch strings.TrimSpace(m.Status) {
	case core.PanicStatusActive, core.PanicStatusAcknowledged, core.PanicStatusResolved:
	default:
		return commandValidationError("status", "status must be active, acknowledged or resolved")
	}
	if len(m.Note) > maxTextLength {
		return commandValidationError("note", "note is too long")
	}
	return nil
}

// BikeMovementMessage is shared by check-in and check-out.
type BikeMovementMessage struct {
	Principal core.Principal
	BikeID    string
	BikeCode  string
	Station   string
	Notes     string
	Location  *core.Location
}

func (m BikeMovementMessage) validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	if strings.TrimSpace(m.BikeID) == "" {
		return commandValidationError("bike_id", "bike id is required")
	}
	if len(m.Notes) > maxTextLength {
		return commandValidationError("notes", "notes are too long")
	}
	return validateLocation(m.Location)
}

type CheckInBikeMessage struct {
	BikeMovementMessage
}

func (CheckInBikeMessage) Type() string { return TypeCheckInBike }

func (m CheckInBikeMessage) Validate() error { return m.validate() }

type CheckOutBikeMessage struct {
	BikeMovementMessage
}

func (CheckOutBikeMessage) Type() string { return TypeCheckOutBike }

func (m CheckOutBikeMessage) Validate() error { return m.validate() }

type CreateMinuteMessage struct {
	Principal   core.Principal
	Title       string
	Description string
	Priority    string
	Category    string
	Location    *core.Location
}

func (CreateMinuteMessage) Type() string { return TypeCreateMinute }

func (m CreateMinuteMessage) Validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	if strings.TrimSpace(m.Title) == "" {
		return commandValidationError("title", "title is required")
	}
	if len(m.Description) > maxTextLength {
		return commandValidationError("description", "description is too long")
	}
	switch normalizePriority(m.Priority) {
	case core.MinutePriorityLow, core.MinutePriorityMedium, core.MinutePriorityHigh, core.MinutePriorityUrgent:
	default:
		return commandValidationError("priority", "priority must be low, medium, high or urgent")
	}
	return validateLocation(m.Location)
}

// normalizePriority defaults an empty priority to medium.
func normalizePriority(priority string) string {
	priority = strings.ToLower(strings.TrimSpace(priority))
	if priority == "" {
		return core.MinutePriorityMedium
	}
	return priority
}

func validatePrincipal(principal core.Principal) error {
	if strings.TrimSpace(principal.ID) == "" {
		return commandValidationError("principal", "authenticated principal is required")
	}
	return nil
}

func validateLocation(location *core.Location) error {
	if location == nil {
		return nil
	}
	if location.Latitude < -90 || location.Latitude > 90 {
		return commandValidationError("location.latitude", "latitude out of range")
	}
	if location.Longitude < -180 || location.Longitude > 180 {
		return commandValidationError("location.longitude", "longitude out of range")
	}
	return nil
}
