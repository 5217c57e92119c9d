package core

import "context"

const (
	MetricWebhookRequests     = "relay.webhook.requests"
	MetricWebhookEvents       = "relay.webhook.events"
	MetricWebhookProcessMS    = "relay.webhook.process_ms"
	MetricRealtimeEvents      = "relay.realtime.events"
	MetricRealtimeConnections = "relay.realtime.connections"
	MetricRouterDeliveries    = "relay.router.deliveries"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func CloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

// EnsureMetrics returns a nop recorder when none is configured.
func EnsureMetrics(recorder MetricsRecorder) MetricsRecorder {
	if recorder == nil {
		return NopMetricsRecorder{}
	}
	return recorder
}

var _ MetricsRecorder = NopMetricsRecorder{}
