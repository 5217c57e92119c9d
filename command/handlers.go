package command

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/google/uuid"
)

// Runtime carries what every command needs to complete a partial client payload.
type Runtime struct {
	Publisher core.Publisher
	Now       func() time.Time
	NewID     func() string
}

func NewRuntime(publisher core.Publisher) Runtime {
	return Runtime{Publisher: publisher}
}

func (r Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Runtime) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r Runtime) publish(ctx context.Context, event core.OutboundEvent) (core.PublishReport, error) {
	if r.Publisher == nil {
		return core.PublishReport{}, commandDependencyError("command: publisher is required")
	}
	report, err := r.Publisher.Publish(ctx, event)
	if err != nil {
		return report, commandPublishError(err, event.Name())
	}
	return report, nil
}

type RaisePanicAlertCommand struct {
	runtime Runtime
}

func NewRaisePanicAlertCommand(runtime Runtime) *RaisePanicAlertCommand {
	return &RaisePanicAlertCommand{runtime: runtime}
}

func (c *RaisePanicAlertCommand) Execute(ctx context.Context, msg RaisePanicAlertMessage) error {
	if c == nil {
		return commandDependencyError("command: panic alert command is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	alert := core.PanicAlert{
		ID:        c.runtime.newID(),
		GuardID:   msg.Principal.ID,
		GuardName: msg.Principal.Name,
		Message:   strings.TrimSpace(msg.Message),
		Status:    core.PanicStatusActive,
		Location:  msg.Location,
		CreatedAt: c.runtime.now(),
	}
	if _, err := c.runtime.publish(ctx, core.NewPanicAlertRaised(alert)); err != nil {
		return err
	}
	storeResult(ctx, alert)
	return nil
}

type UpdatePanicStatusCommand struct {
	runtime Runtime
}

func NewUpdatePanicStatusCommand(runtime Runtime) *UpdatePanicStatusCommand {
	return &UpdatePanicStatusCommand{runtime: runtime}
}

func (c *UpdatePanicStatusCommand) Execute(ctx context.Context, msg UpdatePanicStatusMessage) error {
	if c == nil {
		return commandDependencyError("command: panic status command is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	update := core.PanicStatusUpdate{
		AlertID:   strings.TrimSpace(msg.AlertID),
		Status:    strings.TrimSpace(msg.Status),
		UpdatedBy: msg.Principal.ID,
		Note:      strings.TrimSpace(msg.Note),
		UpdatedAt: c.runtime.now(),
	}
	if _, err := c.runtime.publish(ctx, core.NewPanicStatusUpdated(update)); err != nil {
		return err
	}
	storeResult(ctx, update)
	return nil
}

type CheckInBikeCommand struct {
	runtime Runtime
}

func NewCheckInBikeCommand(runtime Runtime) *CheckInBikeCommand {
	return &CheckInBikeCommand{runtime: runtime}
}

func (c *CheckInBikeCommand) Execute(ctx context.Context, msg CheckInBikeMessage) error {
	if c == nil {
		return commandDependencyError("command: bike check-in command is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	movement := c.runtime.movement(msg.BikeMovementMessage)
	if _, err := c.runtime.publish(ctx, core.NewBikeCheckedIn(movement)); err != nil {
		return err
	}
	storeResult(ctx, movement)
	return nil
}

type CheckOutBikeCommand struct {
	runtime Runtime
}

func NewCheckOutBikeCommand(runtime Runtime) *CheckOutBikeCommand {
	return &CheckOutBikeCommand{runtime: runtime}
}

func (c *CheckOutBikeCommand) Execute(ctx context.Context, msg CheckOutBikeMessage) error {
	if c == nil {
		return commandDependencyError("command: bike check-out command is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	movement := c.runtime.movement(msg.BikeMovementMessage)
	if _, err := c.runtime.publish(ctx, core.NewBikeCheckedOut(movement)); err != nil {
		return err
	}
	storeResult(ctx, movement)
	return nil
}

func (r Runtime) movement(msg BikeMovementMessage) core.BikeMovement {
	return core.BikeMovement{
		ID:         r.newID(),
		BikeID:     strings.TrimSpace(msg.BikeID),
		BikeCode:   strings.TrimSpace(msg.BikeCode),
		GuardID:    msg.Principal.ID,
		GuardName:  msg.Principal.Name,
		Station:    strings.TrimSpace(msg.Station),
		Notes:      strings.TrimSpace(msg.Notes),
		Location:   msg.Location,
		OccurredAt: r.now(),
	}
}

// CreateMinuteCommand publishes new_minute, and additionally high_priority_minute for
// high or urgent entries. The escalation is routed to the priority room only.
type CreateMinuteCommand struct {
	runtime Runtime
}

func NewCreateMinuteCommand(runtime Runtime) *CreateMinuteCommand {
	return &CreateMinuteCommand{runtime: runtime}
}

func (c *CreateMinuteCommand) Execute(ctx context.Context, msg CreateMinuteMessage) error {
	if c == nil {
		return commandDependencyError("command: minute command is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	minute := core.Minute{
		ID:          c.runtime.newID(),
		Title:       strings.TrimSpace(msg.Title),
		Description: strings.TrimSpace(msg.Description),
		Priority:    normalizePriority(msg.Priority),
		Category:    strings.TrimSpace(msg.Category),
		AuthorID:    msg.Principal.ID,
		AuthorName:  msg.Principal.Name,
		Location:    msg.Location,
		CreatedAt:   c.runtime.now(),
	}
	if _, err := c.runtime.publish(ctx, core.NewMinuteCreated(minute)); err != nil {
		return err
	}
	if core.IsHighPriority(minute.Priority) {
		if _, err := c.runtime.publish(ctx, core.NewHighPriorityMinute(minute)); err != nil {
			return err
		}
	}
	storeResult(ctx, minute)
	return nil
}

// Set bundles one instance of every relay command over a shared runtime.
type Set struct {
	RaisePanicAlert   *RaisePanicAlertCommand
	UpdatePanicStatus *UpdatePanicStatusCommand
	CheckInBike       *CheckInBikeCommand
	CheckOutBike      *CheckOutBikeCommand
	CreateMinute      *CreateMinuteCommand
}

func NewSet(runtime Runtime) Set {
	return Set{
		RaisePanicAlert:   NewRaisePanicAlertCommand(runtime),
		UpdatePanicStatus: NewUpdatePanicStatusCommand(runtime),
		CheckInBike:       NewCheckInBikeCommand(runtime),
		CheckOutBike:      NewCheckOutBikeCommand(runtime),
		CreateMinute:      NewCreateMinuteCommand(runtime),
	}
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
