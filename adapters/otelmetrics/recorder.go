package otelmetrics

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-guardrelay/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder implements core.MetricsRecorder over an OpenTelemetry meter. Instruments are
// created lazily on first use and cached by name.
type Recorder struct {
	meter  metric.Meter
	logger core.Logger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

func NewRecorder(meter metric.Meter, logger core.Logger) *Recorder {
	return &Recorder{
		meter:      meter,
		logger:     core.ResolveLogger("metrics", nil, logger),
		counters:   map[string]metric.Int64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

func (r *Recorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if r == nil || r.meter == nil {
		return
	}
	counter, ok := r.counter(name)
	if !ok {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if r == nil || r.meter == nil {
		return
	}
	histogram, ok := r.histogram(name)
	if !ok {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
}

func (r *Recorder) counter(name string) (metric.Int64Counter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if counter, ok := r.counters[name]; ok {
		return counter, true
	}
	counter, err := r.meter.Int64Counter(name, metric.WithDescription(describe(name)))
	if err != nil {
		core.LogWithLevel(context.Background(), r.logger, "warn", "metric counter unavailable", map[string]any{
			"metric": name,
			"error":  err.Error(),
		})
		return nil, false
	}
	r.counters[name] = counter
	return counter, true
}

func (r *Recorder) histogram(name string) (metric.Float64Histogram, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if histogram, ok := r.histograms[name]; ok {
		return histogram, true
	}
	opts := []metric.Float64HistogramOption{metric.WithDescription(describe(name))}
	if strings.HasSuffix(name, "_ms") {
		opts = append(opts,
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
		)
	}
	histogram, err := r.meter.Float64Histogram(name, opts...)
	if err != nil {
		core.LogWithLevel(context.Background(), r.logger, "warn", "metric histogram unavailable", map[string]any{
			"metric": name,
			"error":  err.Error(),
		})
		return nil, false
	}
	r.histograms[name] = histogram
	return histogram, true
}

func attributes(tags map[string]string) []attribute.KeyValue {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, attribute.String(key, tags[key]))
	}
	return out
}

func describe(name string) string {
	switch name {
	case core.MetricWebhookRequests:
		return "Webhook HTTP requests by method and outcome"
	case core.MetricWebhookEvents:
		return "Inbound webhook events dispatched to the message handler"
	case core.MetricWebhookProcessMS:
		return "Webhook body processing time"
	case core.MetricRealtimeEvents:
		return "Real-time events observed by direction"
	case core.MetricRealtimeConnections:
		return "Real-time connection registrations and removals"
	case core.MetricRouterDeliveries:
		return "Per-connection outbound deliveries"
	default:
		return name
	}
}

var _ core.MetricsRecorder = (*Recorder)(nil)
