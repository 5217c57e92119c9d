package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   map[string]int64
	tags       []map[string]string
	histograms []string
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
	m.tags = append(m.tags, CloneTags(tags))
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, name)
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) glog.Logger { return l }

type captureProvider struct {
	logger *captureLogger
}

func (p captureProvider) GetLogger(string) glog.Logger { return p.logger }

func TestLogWithLevel_SortsFieldsAndPicksLevel(t *testing.T) {
	logger := &captureLogger{}
	LogWithLevel(context.Background(), logger, "WARN", "queue full", map[string]any{"size": 4, "event": "x"})
	LogWithLevel(context.Background(), logger, "bogus", "fallback", nil)

	if len(logger.lines) != 2 {
		t.Fatalf("expected two lines, got %v", logger.lines)
	}
	if logger.lines[0] != "warn queue full [event x size 4]" {
		t.Fatalf("unexpected line %q", logger.lines[0])
	}
	if logger.lines[1] != "info fallback []" {
		t.Fatalf("unexpected fallback line %q", logger.lines[1])
	}
	LogWithLevel(context.Background(), nil, "info", "dropped", nil)
}

func TestLoggingObserver_CountsEvents(t *testing.T) {
	logger := &captureLogger{}
	metrics := &captureMetricsRecorder{}
	observer := NewLoggingObserver(logger, metrics)
	observer.ObserveEvent(context.Background(), EventTrace{
		Direction:    DirectionOutbound,
		Event:        EventNewPanicAlert,
		ConnectionID: "c-1",
		Room:         RoomOperators,
		At:           time.Now(),
	})
	if metrics.counters[MetricRealtimeEvents] != 1 {
		t.Fatalf("expected one realtime event counter, got %v", metrics.counters)
	}
	if metrics.tags[0]["event"] != EventNewPanicAlert {
		t.Fatalf("unexpected tags %v", metrics.tags[0])
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected one debug line, got %v", logger.lines)
	}

	var nilObserver *LoggingObserver
	nilObserver.ObserveEvent(context.Background(), EventTrace{})
}

func TestResolveLogger_PrefersProvider(t *testing.T) {
	direct := &captureLogger{}
	named := &captureLogger{}
	provider := captureProvider{logger: named}
	resolved := ResolveLogger("realtime", provider, direct)
	resolved.Info("hello")
	if len(named.lines) != 1 || len(direct.lines) != 0 {
		t.Fatalf("expected provider logger to be used, named=%v direct=%v", named.lines, direct.lines)
	}
	if ResolveLogger("x", nil, nil) == nil {
		t.Fatalf("expected nop fallback")
	}
}

func TestObserveDuration(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	ObserveDuration(context.Background(), metrics, MetricWebhookProcessMS, time.Now(), nil)
	if len(metrics.histograms) != 1 || metrics.histograms[0] != MetricWebhookProcessMS {
		t.Fatalf("unexpected histograms %v", metrics.histograms)
	}
	ObserveDuration(context.Background(), nil, MetricWebhookProcessMS, time.Now(), nil)
}
