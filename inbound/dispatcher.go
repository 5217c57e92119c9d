package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
)

// Handler completes one client event name.
type Handler interface {
	Event() string
	Handle(ctx context.Context, event core.ClientEvent) error
}

type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, event core.ClientEvent) error
}

func (h HandlerFunc) Event() string {
	return h.Name
}

func (h HandlerFunc) Handle(ctx context.Context, event core.ClientEvent) error {
	if h.Fn == nil {
		return nil
	}
	return h.Fn(ctx, event)
}

// ClaimStore deduplicates client events that carry a client_ref.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error) error
}

// KeyExtractor returns the dedupe key for an event, or "" to skip dedupe.
type KeyExtractor func(event core.ClientEvent) string

type Dispatcher struct {
	Store      ClaimStore
	ExtractKey KeyExtractor
	KeyTTL     time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(store ClaimStore) *Dispatcher {
	return &Dispatcher{
		Store:      store,
		ExtractKey: ClientRefKey,
		KeyTTL:     10 * time.Minute,
		handlers:   map[string]Handler{},
	}
}

func (d *Dispatcher) Register(handler Handler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	name := normalizeEvent(handler.Event())
	if name == "" {
		return inboundBadInput("inbound: handler event name is required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[string]Handler{}
	}
	if _, exists := d.handlers[name]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for event %q", name),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.RelayErrorBadInput,
			map[string]any{"event": name},
		)
	}
	d.handlers[name] = handler
	return nil
}

// Events lists registered event names in sorted order.
func (d *Dispatcher) Events() []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler registered for event.Name. Unknown names return handled=false and
// no error. A duplicate client_ref inside the dedupe window is reported as handled without
// running the handler again.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.ClientEvent) (bool, error) {
	if d == nil {
		return false, inboundInternal("inbound: dispatcher is nil", nil)
	}
	event.Name = normalizeEvent(event.Name)
	handler := d.handlerFor(event.Name)
	if handler == nil {
		return false, nil
	}
	if strings.TrimSpace(event.Principal.ID) == "" {
		return true, inboundError(
			"inbound: client event requires an authenticated principal",
			goerrors.CategoryAuth,
			http.StatusForbidden,
			core.RelayErrorAuthRejected,
			map[string]any{"event": event.Name, "connection_id": string(event.ConnectionID)},
		)
	}

	claimID := ""
	if d.Store != nil {
		extractor := d.ExtractKey
		if extractor == nil {
			extractor = ClientRefKey
		}
		if key := extractor(event); key != "" {
			var accepted bool
			var err error
			claimID, accepted, err = d.Store.Claim(ctx, key, d.keyTTL())
			if err != nil {
				return true, inboundWrapError(
					err,
					goerrors.CategoryOperation,
					"inbound: idempotency claim failed",
					http.StatusInternalServerError,
					core.RelayErrorInternal,
					map[string]any{"event": event.Name, "idempotency": key},
				)
			}
			if !accepted {
				return true, nil
			}
		}
	}

	if err := handler.Handle(ctx, event); err != nil {
		if d.Store != nil && claimID != "" {
			_ = d.Store.Fail(ctx, claimID, err)
		}
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			return true, err
		}
		return true, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			http.StatusBadGateway,
			core.RelayErrorTransportFailure,
			map[string]any{"event": event.Name, "connection_id": string(event.ConnectionID)},
		)
	}
	if d.Store != nil && claimID != "" {
		if err := d.Store.Complete(ctx, claimID); err != nil {
			return true, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.RelayErrorInternal,
				map[string]any{"event": event.Name, "claim_id": claimID},
			)
		}
	}
	return true, nil
}

// ClientRefKey scopes a payload's client_ref to the principal and event name.
func ClientRefKey(event core.ClientEvent) string {
	if len(event.Data) == 0 {
		return ""
	}
	var probe struct {
		ClientRef string `json:"client_ref"`
	}
	if err := json.Unmarshal(event.Data, &probe); err != nil {
		return ""
	}
	ref := strings.TrimSpace(probe.ClientRef)
	if ref == "" {
		return ""
	}
	return strings.TrimSpace(event.Principal.ID) + ":" + event.Name + ":" + ref
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return 10 * time.Minute
}

func (d *Dispatcher) handlerFor(name string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[name]
}

func normalizeEvent(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

var _ core.ClientEventDispatcher = (*Dispatcher)(nil)
