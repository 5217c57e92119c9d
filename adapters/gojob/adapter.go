package gojob

import (
	"context"
	"strings"

	"github.com/goliatone/go-guardrelay/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	MetricJobRuns       = "relay.jobs.runs"
	MetricJobDurationMS = "relay.jobs.duration_ms"
)

// Hook reports go-job worker lifecycle events through the relay logger and metrics recorder.
type Hook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewHook(logger core.Logger, metrics core.MetricsRecorder) *Hook {
	return &Hook{
		logger:  core.ResolveLogger("jobs", nil, logger),
		metrics: core.EnsureMetrics(metrics),
	}
}

func (h *Hook) OnStart(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	core.LogWithLevel(ctx, h.logger, "debug", "job started", h.fields(event))
}

func (h *Hook) OnSuccess(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.record(ctx, event, "success")
	core.LogWithLevel(ctx, h.logger, "debug", "job completed", h.fields(event))
}

func (h *Hook) OnFailure(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.record(ctx, event, "failure")
	core.LogWithLevel(ctx, h.logger, "error", "job failed", h.fields(event))
}

func (h *Hook) OnRetry(ctx context.Context, event worker.Event) {
	if h == nil {
		return
	}
	h.record(ctx, event, "retry")
	core.LogWithLevel(ctx, h.logger, "warn", "job retry scheduled", h.fields(event))
}

func (h *Hook) record(ctx context.Context, event worker.Event, outcome string) {
	tags := map[string]string{
		"job_id":  jobID(messageOf(event)),
		"outcome": outcome,
	}
	h.metrics.IncCounter(ctx, MetricJobRuns, 1, tags)
	if event.Duration > 0 {
		h.metrics.ObserveHistogram(ctx, MetricJobDurationMS, float64(event.Duration.Milliseconds()), tags)
	}
}

func (h *Hook) fields(event worker.Event) map[string]any {
	msg := messageOf(event)
	fields := map[string]any{
		"job_id":  jobID(msg),
		"attempt": event.Attempt,
	}
	if msg != nil && strings.TrimSpace(msg.IdempotencyKey) != "" {
		fields["idempotency_key"] = msg.IdempotencyKey
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

func messageOf(event worker.Event) *job.ExecutionMessage {
	if event.Message != nil {
		return event.Message
	}
	if event.Delivery != nil {
		return event.Delivery.Message()
	}
	return nil
}

func jobID(msg *job.ExecutionMessage) string {
	if msg == nil {
		return "unknown"
	}
	if id := strings.TrimSpace(msg.JobID); id != "" {
		return id
	}
	return "unknown"
}

var _ worker.Hook = (*Hook)(nil)
