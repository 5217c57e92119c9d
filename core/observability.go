package core

import (
	"context"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ResolveLogger picks the named logger from provider, then logger, then nop.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	resolvedProvider, resolved := glog.Resolve(name, provider, logger)
	resolved = glog.Ensure(resolved)
	if resolvedProvider != nil {
		if named := resolvedProvider.GetLogger(name); named != nil {
			resolved = glog.Ensure(named)
		}
	}
	return resolved
}

// LogWithLevel writes message with fields attached both as structured fields (when the
// logger supports them) and as sorted key/value args.
func LogWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(CloneFields(fields))
	}
	args := FlattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

// LoggingObserver records every real-time event as a debug log line and a counter.
type LoggingObserver struct {
	Logger  Logger
	Metrics MetricsRecorder
}

func NewLoggingObserver(logger Logger, metrics MetricsRecorder) *LoggingObserver {
	return &LoggingObserver{Logger: glog.Ensure(logger), Metrics: EnsureMetrics(metrics)}
}

func (o *LoggingObserver) ObserveEvent(ctx context.Context, trace EventTrace) {
	if o == nil {
		return
	}
	fields := map[string]any{
		"direction":     string(trace.Direction),
		"event":         trace.Event,
		"connection_id": string(trace.ConnectionID),
	}
	if trace.Room != "" {
		fields["room"] = string(trace.Room)
	}
	LogWithLevel(ctx, o.Logger, "debug", "realtime event", fields)
	EnsureMetrics(o.Metrics).IncCounter(ctx, MetricRealtimeEvents, 1, map[string]string{
		"direction": string(trace.Direction),
		"event":     trace.Event,
	})
}

// ObserveDuration records a histogram sample in milliseconds since startedAt.
func ObserveDuration(ctx context.Context, recorder MetricsRecorder, name string, startedAt time.Time, tags map[string]string) {
	EnsureMetrics(recorder).ObserveHistogram(ctx, name, float64(time.Since(startedAt).Milliseconds()), CloneTags(tags))
}

func CloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func FlattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

var _ EventObserver = (*LoggingObserver)(nil)
