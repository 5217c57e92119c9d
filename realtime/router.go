package realtime

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
)

// RoomsFor is the static event-to-room mapping.
func RoomsFor(kind core.OutboundKind) []core.RoomID {
	switch kind {
	case core.PanicAlertRaised, core.PanicStatusUpdated:
		return []core.RoomID{core.RoomOperators, core.RoomSupervisors}
	case core.BikeCheckedIn, core.BikeCheckedOut:
		return []core.RoomID{core.RoomGuards}
	case core.MinuteCreated:
		return []core.RoomID{core.RoomMinutes}
	case core.HighPriorityMinute:
		// The paired new_minute already reaches the minutes room.
		return []core.RoomID{core.RoomPriority}
	default:
		return nil
	}
}

// Router serializes outbound events once and fans them out per target room.
// Publishes are serialized so events from one caller reach every room in call order.
type Router struct {
	registry *Registry
	observer core.EventObserver
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time

	mu sync.Mutex
}

type RouterOption func(*Router)

func WithRouterObserver(observer core.EventObserver) RouterOption {
	return func(r *Router) {
		if observer != nil {
			r.observer = observer
		}
	}
}

func WithRouterLogger(logger core.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRouterMetrics(metrics core.MetricsRecorder) RouterOption {
	return func(r *Router) {
		r.metrics = core.EnsureMetrics(metrics)
	}
}

func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		observer: core.NopEventObserver{},
		logger:   core.ResolveLogger("realtime.router", nil, nil),
		metrics:  core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Publish never stops part way through a room. Per-connection failures are counted in the
// report; only an unknown event kind or an unencodable payload is returned as an error.
func (r *Router) Publish(ctx context.Context, event core.OutboundEvent) (core.PublishReport, error) {
	name := event.Name()
	rooms := RoomsFor(event.Kind)
	if len(rooms) == 0 {
		return core.PublishReport{}, core.NewError("unknown outbound event", goerrors.CategoryBadInput, core.RelayErrorBadInput, map[string]any{
			"kind": string(event.Kind),
		})
	}
	payload, err := event.Payload()
	if err != nil {
		return core.PublishReport{}, core.WrapError(err, goerrors.CategoryBadInput, "outbound payload invalid", core.RelayErrorMalformedPayload, map[string]any{
			"event": name,
		})
	}
	frame, err := EncodeFrame(name, payload)
	if err != nil {
		return core.PublishReport{}, core.WrapError(err, goerrors.CategoryInternal, "outbound payload encode failed", core.RelayErrorMalformedPayload, map[string]any{
			"event": name,
		})
	}

	report := core.PublishReport{Event: name, Rooms: append([]core.RoomID(nil), rooms...)}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		fanout := r.registry.Fanout(room, frame)
		report.Delivered += len(fanout.Delivered)
		report.Failed += len(fanout.Failed)

		at := r.now()
		for _, id := range fanout.Delivered {
			r.observer.ObserveEvent(ctx, core.EventTrace{
				Direction:    core.DirectionOutbound,
				Event:        name,
				ConnectionID: id,
				Room:         room,
				At:           at,
			})
		}
		r.metrics.IncCounter(ctx, core.MetricRouterDeliveries, int64(len(fanout.Delivered)), map[string]string{
			"event":   name,
			"room":    string(room),
			"outcome": "delivered",
		})
		if len(fanout.Failed) > 0 {
			r.metrics.IncCounter(ctx, core.MetricRouterDeliveries, int64(len(fanout.Failed)), map[string]string{
				"event":   name,
				"room":    string(room),
				"outcome": "failed",
			})
			core.LogWithLevel(ctx, r.logger, "warn", "dropped slow connections during fanout", map[string]any{
				"event":  name,
				"room":   string(room),
				"failed": len(fanout.Failed),
				"code":   core.RelayErrorTransportFailure,
			})
		}
	}
	return report, nil
}

var _ core.Publisher = (*Router)(nil)
