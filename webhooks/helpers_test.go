package webhooks

import (
	"context"
	"sync"

	"github.com/goliatone/go-guardrelay/core"
)

type recordingHandler struct {
	mu         sync.Mutex
	seen       []string
	messages   []core.IncomingMessage
	statuses   []core.DeliveryStatus
	messageErr map[string]error
	panicOn    string
	notify     chan struct{}
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg core.IncomingMessage) error {
	h.mu.Lock()
	h.seen = append(h.seen, "message:"+msg.ID)
	h.messages = append(h.messages, msg)
	err := h.messageErr[msg.ID]
	h.mu.Unlock()
	h.signal()
	if h.panicOn != "" && h.panicOn == msg.ID {
		panic("handler exploded")
	}
	return err
}

func (h *recordingHandler) HandleStatus(_ context.Context, status core.DeliveryStatus) error {
	h.mu.Lock()
	h.seen = append(h.seen, "status:"+status.ID)
	h.statuses = append(h.statuses, status)
	h.mu.Unlock()
	h.signal()
	if h.panicOn != "" && h.panicOn == status.ID {
		panic("handler exploded")
	}
	return nil
}

func (h *recordingHandler) signal() {
	if h.notify == nil {
		return
	}
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func (h *recordingHandler) messageSnapshot() []core.IncomingMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.IncomingMessage(nil), h.messages...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	tags     []map[string]string
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
	m.tags = append(m.tags, core.CloneTags(tags))
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *recordingMetrics) outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, tags := range m.tags {
		if outcome, ok := tags["outcome"]; ok {
			out = append(out, outcome)
		}
	}
	return out
}
