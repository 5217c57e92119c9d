package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"

	job "github.com/goliatone/go-job"
)

// ProcessResult summarizes phase 2 of one webhook call.
type ProcessResult struct {
	Matched    bool
	Dispatched int
	Failed     int
}

// Processor parses verified bodies and hands each event to the message handler, in order.
// A failing or panicking handler call is logged and does not stop the remaining events.
type Processor struct {
	Handler core.MessageHandler
	Object  string
	Logger  core.Logger
	Metrics core.MetricsRecorder
	Now     func() time.Time
}

func NewProcessor(handler core.MessageHandler, object string, logger core.Logger, metrics core.MetricsRecorder) *Processor {
	return &Processor{
		Handler: handler,
		Object:  strings.TrimSpace(object),
		Logger:  core.ResolveLogger("webhooks.processor", nil, logger),
		Metrics: core.EnsureMetrics(metrics),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process is the phase-2 entry point for a raw verified body.
func (p *Processor) Process(ctx context.Context, body []byte, receivedAt time.Time) ProcessResult {
	if p == nil {
		return ProcessResult{}
	}
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	startedAt := time.Now()
	events, matched := ParseEvents(body, p.Object, receivedAt)
	result := ProcessResult{Matched: matched}
	if !matched {
		core.LogWithLevel(ctx, p.Logger, "debug", "webhook body ignored", map[string]any{
			"bytes": len(body),
		})
		return result
	}

	for _, event := range events {
		if err := p.dispatch(ctx, event); err != nil {
			result.Failed++
			core.LogWithLevel(ctx, p.Logger, "error", "webhook event handler failed", map[string]any{
				"kind":  string(event.Kind),
				"error": err.Error(),
			})
			p.metrics().IncCounter(ctx, core.MetricWebhookEvents, 1, map[string]string{
				"kind":    string(event.Kind),
				"outcome": "failed",
			})
			continue
		}
		result.Dispatched++
		p.metrics().IncCounter(ctx, core.MetricWebhookEvents, 1, map[string]string{
			"kind":    string(event.Kind),
			"outcome": "dispatched",
		})
	}
	core.ObserveDuration(ctx, p.metrics(), core.MetricWebhookProcessMS, startedAt, nil)
	return result
}

// HandleJob adapts Process to the queue's JobHandler.
func (p *Processor) HandleJob(ctx context.Context, msg *job.ExecutionMessage) error {
	body, receivedAt, err := BodyFromMessage(msg)
	if err != nil {
		return err
	}
	p.Process(ctx, body, receivedAt)
	return nil
}

func (p *Processor) dispatch(ctx context.Context, event core.InboundEvent) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: handler panicked: %v", recovered)
		}
	}()
	if p.Handler == nil {
		return nil
	}
	switch event.Kind {
	case core.InboundEventMessage:
		if event.Message == nil {
			return fmt.Errorf("webhooks: message event without payload")
		}
		return p.Handler.HandleMessage(ctx, *event.Message)
	case core.InboundEventStatus:
		if event.Status == nil {
			return fmt.Errorf("webhooks: status event without payload")
		}
		return p.Handler.HandleStatus(ctx, *event.Status)
	default:
		return fmt.Errorf("webhooks: unsupported inbound event kind %q", event.Kind)
	}
}

func (p *Processor) metrics() core.MetricsRecorder {
	if p == nil {
		return core.NopMetricsRecorder{}
	}
	return core.EnsureMetrics(p.Metrics)
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
