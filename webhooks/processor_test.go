package webhooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-guardrelay/core"
)

func TestProcessor_DispatchesInOrderAndContainsFailures(t *testing.T) {
	handler := &recordingHandler{
		messageErr: map[string]error{"m1": errors.New("db down")},
		panicOn:    "s1",
	}
	metrics := &recordingMetrics{}
	processor := NewProcessor(handler, "", nil, metrics)

	result := processor.Process(context.Background(), []byte(sampleBody), time.Time{})
	if !result.Matched {
		t.Fatalf("expected body to match")
	}
	if result.Dispatched != 2 || result.Failed != 2 {
		t.Fatalf("expected 2 dispatched and 2 failed, got %+v", result)
	}
	got := handler.calls()
	want := []string{"message:m1", "message:m2", "status:s1", "status:s2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected call order %v, got %v", want, got)
	}
	if metrics.count(core.MetricWebhookEvents) != 4 {
		t.Fatalf("expected 4 event counters, got %d", metrics.count(core.MetricWebhookEvents))
	}
	outcomes := strings.Join(metrics.outcomes(), ",")
	if outcomes != "failed,dispatched,failed,dispatched" {
		t.Fatalf("unexpected outcomes %q", outcomes)
	}
}

func TestProcessor_StampsReceivedAt(t *testing.T) {
	handler := &recordingHandler{}
	processor := NewProcessor(handler, "", nil, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	processor.Now = func() time.Time { return fixed }

	processor.Process(context.Background(), []byte(sampleBody), time.Time{})
	messages := handler.messageSnapshot()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	for _, msg := range messages {
		if !msg.ReceivedAt.Equal(fixed) {
			t.Fatalf("expected clock stamp %v, got %v", fixed, msg.ReceivedAt)
		}
	}

	explicit := fixed.Add(time.Hour)
	processor.Process(context.Background(), []byte(sampleBody), explicit)
	messages = handler.messageSnapshot()
	if !messages[len(messages)-1].ReceivedAt.Equal(explicit) {
		t.Fatalf("expected explicit receive time to win")
	}
}

func TestProcessor_IgnoresForeignObject(t *testing.T) {
	handler := &recordingHandler{}
	processor := NewProcessor(handler, "instagram", nil, nil)
	result := processor.Process(context.Background(), []byte(sampleBody), time.Now())
	if result.Matched || result.Dispatched != 0 {
		t.Fatalf("expected foreign object to be ignored, got %+v", result)
	}
	if len(handler.calls()) != 0 {
		t.Fatalf("expected no handler calls, got %v", handler.calls())
	}

	result = processor.Process(context.Background(), []byte("not json"), time.Now())
	if result.Matched {
		t.Fatalf("expected non-object body to be ignored")
	}
}

func TestProcessor_NilSafe(t *testing.T) {
	var processor *Processor
	if result := processor.Process(context.Background(), []byte(sampleBody), time.Now()); result.Matched {
		t.Fatalf("expected nil processor to do nothing")
	}
	withoutHandler := NewProcessor(nil, "", nil, nil)
	if result := withoutHandler.Process(context.Background(), []byte(sampleBody), time.Now()); result.Dispatched != 4 {
		t.Fatalf("expected events to count as dispatched without a handler, got %+v", result)
	}
}

func TestProcessor_HandleJob(t *testing.T) {
	handler := &recordingHandler{}
	processor := NewProcessor(handler, "", nil, nil)
	if err := processor.HandleJob(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
	msg := NewBodyMessage([]byte(sampleBody), "sig", time.Now())
	if err := processor.HandleJob(context.Background(), msg); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if len(handler.calls()) != 4 {
		t.Fatalf("expected 4 handler calls, got %v", handler.calls())
	}

	msg.Parameters[paramBody] = "not bytes"
	if err := processor.HandleJob(context.Background(), msg); err == nil {
		t.Fatalf("expected error for invalid body parameter")
	}
}
