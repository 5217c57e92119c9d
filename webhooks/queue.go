package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-guardrelay/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDProcessWebhook = "guardrelay.webhook.process"

	paramBody       = "body"
	paramReceivedAt = "received_at"
)

var (
	ErrQueueFull    = errors.New("webhooks: processing queue is full")
	ErrQueueStopped = errors.New("webhooks: processing queue is stopped")
)

// JobHandler runs one dequeued execution message.
type JobHandler func(ctx context.Context, msg *job.ExecutionMessage) error

type QueueConfig struct {
	Size    int
	Workers int
}

// Queue is an in-process go-job queue: a bounded buffer drained by a fixed worker pool.
// With one worker, messages are processed strictly in enqueue order.
type Queue struct {
	handler JobHandler
	hook    worker.Hook
	logger  core.Logger
	workers int

	mu      sync.RWMutex
	items   chan *job.ExecutionMessage
	stopped bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewQueue(cfg QueueConfig, handler JobHandler, hook worker.Hook, logger core.Logger) *Queue {
	size := cfg.Size
	if size <= 0 {
		size = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		handler: handler,
		hook:    hook,
		logger:  core.ResolveLogger("webhooks.queue", nil, logger),
		workers: workers,
		items:   make(chan *job.ExecutionMessage, size),
	}
}

// NewBodyMessage wraps a verified webhook body into an execution message.
func NewBodyMessage(body []byte, idempotencyKey string, receivedAt time.Time) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:      JobIDProcessWebhook,
		ScriptPath: JobIDProcessWebhook,
		Parameters: map[string]any{
			paramBody:       append([]byte(nil), body...),
			paramReceivedAt: receivedAt,
		},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// BodyFromMessage returns the body and receive time stored by NewBodyMessage.
func BodyFromMessage(msg *job.ExecutionMessage) ([]byte, time.Time, error) {
	if msg == nil {
		return nil, time.Time{}, fmt.Errorf("webhooks: execution message is required")
	}
	body, ok := msg.Parameters[paramBody].([]byte)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("webhooks: execution message body is invalid")
	}
	receivedAt, _ := msg.Parameters[paramReceivedAt].(time.Time)
	return body, receivedAt, nil
}

// Enqueue never blocks. A full or stopped queue returns an error immediately.
func (q *Queue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return ErrQueueStopped
	}
	if msg == nil {
		return fmt.Errorf("webhooks: execution message is required")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.items <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a message is available, the queue is stopped and drained, or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case msg, ok := <-q.items:
		if !ok {
			return nil, ErrQueueStopped
		}
		return &delivery{msg: msg}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.items)
}

// Start launches the worker pool. Workers run with their own context, detached from any request.
func (q *Queue) Start(ctx context.Context) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(runCtx)
	}
}

// Stop rejects new messages and waits for queued ones to drain. When ctx ends first the
// workers are cancelled and ctx.Err() is returned.
func (q *Queue) Stop(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.items)
	started := q.started
	cancel := q.cancel
	q.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		d, err := q.Dequeue(ctx)
		if err != nil {
			return
		}
		q.process(ctx, d)
	}
}

func (q *Queue) process(ctx context.Context, d queue.Delivery) {
	msg := d.Message()
	startedAt := time.Now()
	event := worker.Event{Message: msg, Delivery: d, Attempt: 1, StartedAt: startedAt}
	if q.hook != nil {
		q.hook.OnStart(ctx, event)
	}

	err := q.invoke(ctx, msg)
	event.Duration = time.Since(startedAt)
	event.Err = err
	if err != nil {
		// Processing failures are terminal; the sender was already acknowledged.
		_ = d.Nack(ctx, queue.NackOptions{Reason: err.Error()})
		if q.hook != nil {
			q.hook.OnFailure(ctx, event)
		}
		core.LogWithLevel(ctx, q.logger, "error", "webhook job failed", map[string]any{
			"job_id": msg.JobID,
			"error":  err.Error(),
		})
		return
	}
	_ = d.Ack(ctx)
	if q.hook != nil {
		q.hook.OnSuccess(ctx, event)
	}
}

func (q *Queue) invoke(ctx context.Context, msg *job.ExecutionMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("webhooks: job panicked: %v", recovered)
		}
	}()
	if q.handler == nil {
		return fmt.Errorf("webhooks: job handler is not configured")
	}
	return q.handler(ctx, msg)
}

type delivery struct {
	msg *job.ExecutionMessage

	mu       sync.Mutex
	acked    bool
	nackOpts *queue.NackOptions
}

func (d *delivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *delivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *delivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nackOpts = &opts
	return nil
}

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Dequeuer = (*Queue)(nil)
	_ queue.Delivery = (*delivery)(nil)
)
