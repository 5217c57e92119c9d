package guardrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/adapters/gojob"
	"github.com/goliatone/go-guardrelay/command"
	"github.com/goliatone/go-guardrelay/core"
	"github.com/goliatone/go-guardrelay/inbound"
	"github.com/goliatone/go-guardrelay/ratelimit"
	"github.com/goliatone/go-guardrelay/realtime"
	"github.com/goliatone/go-guardrelay/webhooks"
	"github.com/goliatone/go-job/queue/worker"
)

// Relay wires the webhook ingress and the real-time channel around one connection registry.
type Relay struct {
	cfg     core.Config
	logger  core.Logger
	metrics core.MetricsRecorder

	registry   *realtime.Registry
	router     *realtime.Router
	channel    *realtime.Channel
	dispatcher *inbound.Dispatcher
	commands   command.Set
	processor  *webhooks.Processor
	queue      *webhooks.Queue
	ingress    *webhooks.Ingress

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

type relayOptions struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	validator      core.TokenValidator
	handler        core.MessageHandler
	observers      []core.EventObserver
	roomPolicy     realtime.RoomPolicy
	jobHook        worker.Hook
	claims         inbound.ClaimStore
}

type Option func(*relayOptions)

func WithLogger(logger core.Logger) Option {
	return func(o *relayOptions) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *relayOptions) {
		o.loggerProvider = provider
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *relayOptions) {
		o.metrics = metrics
	}
}

// WithTokenValidator sets the session collaborator used to authenticate channel clients.
func WithTokenValidator(validator core.TokenValidator) Option {
	return func(o *relayOptions) {
		o.validator = validator
	}
}

// WithMessageHandler sets the persistence callback for verified webhook events.
func WithMessageHandler(handler core.MessageHandler) Option {
	return func(o *relayOptions) {
		o.handler = handler
	}
}

// WithEventObserver adds an observer next to the built-in logging observer.
func WithEventObserver(observer core.EventObserver) Option {
	return func(o *relayOptions) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

func WithRoomPolicy(policy realtime.RoomPolicy) Option {
	return func(o *relayOptions) {
		o.roomPolicy = policy
	}
}

func WithJobHook(hook worker.Hook) Option {
	return func(o *relayOptions) {
		o.jobHook = hook
	}
}

func WithClaimStore(store inbound.ClaimStore) Option {
	return func(o *relayOptions) {
		o.claims = store
	}
}

func New(cfg core.Config, opts ...Option) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "guardrelay: invalid configuration", core.RelayErrorBadInput, nil)
	}
	options := relayOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.validator == nil {
		return nil, fmt.Errorf("guardrelay: token validator is required")
	}
	if options.handler == nil {
		return nil, fmt.Errorf("guardrelay: message handler is required")
	}

	named := func(name string) core.Logger {
		return core.ResolveLogger(name, options.loggerProvider, options.logger)
	}
	metrics := core.EnsureMetrics(options.metrics)
	relay := &Relay{
		cfg:     cfg,
		logger:  named("guardrelay"),
		metrics: metrics,
	}

	observer := fanoutObserver(append([]core.EventObserver{
		core.NewLoggingObserver(named("realtime.events"), metrics),
	}, options.observers...))

	relay.registry = realtime.NewRegistry(
		realtime.WithRegistryLogger(named("realtime.registry")),
		realtime.WithRegistryMetrics(metrics),
	)
	relay.router = realtime.NewRouter(relay.registry,
		realtime.WithRouterObserver(observer),
		realtime.WithRouterLogger(named("realtime.router")),
		realtime.WithRouterMetrics(metrics),
	)

	relay.commands = command.NewSet(command.NewRuntime(relay.router))
	claims := options.claims
	if claims == nil {
		claims = inbound.NewInMemoryClaimStore()
	}
	relay.dispatcher = inbound.NewDispatcher(claims)
	if err := command.RegisterClientHandlers(relay.dispatcher, relay.commands); err != nil {
		return nil, err
	}

	channelOpts := []realtime.ChannelOption{
		realtime.WithClientEvents(relay.dispatcher),
		realtime.WithRateLimiter(ratelimit.NewKeyedLimiter(cfg.Realtime.EventsPerSecond, cfg.Realtime.EventBurst)),
		realtime.WithChannelObserver(observer),
		realtime.WithChannelLogger(named("realtime.channel")),
	}
	if options.roomPolicy != nil {
		channelOpts = append(channelOpts, realtime.WithRoomPolicy(options.roomPolicy))
	}
	relay.channel = realtime.NewChannel(realtime.ChannelConfig{
		AuthTimeout:    cfg.Realtime.AuthTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		PingTimeout:    cfg.Realtime.PingTimeout,
		SendBuffer:     cfg.Realtime.SendBuffer,
		OriginPatterns: cfg.Realtime.OriginPatterns,
	}, relay.registry, options.validator, channelOpts...)

	hook := options.jobHook
	if hook == nil {
		hook = gojob.NewHook(named("webhooks.jobs"), metrics)
	}
	relay.processor = webhooks.NewProcessor(options.handler, cfg.Webhook.Object, named("webhooks.processor"), metrics)
	relay.queue = webhooks.NewQueue(webhooks.QueueConfig{
		Size:    cfg.Webhook.QueueSize,
		Workers: cfg.Webhook.Workers,
	}, relay.processor.HandleJob, hook, named("webhooks.queue"))
	relay.ingress = webhooks.NewIngress(webhooks.IngressConfig{
		VerifyToken:  cfg.Webhook.VerifyToken,
		AppSecret:    cfg.Webhook.AppSecret,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	}, relay.queue, relay.processor,
		webhooks.WithIngressLogger(named("webhooks.ingress")),
		webhooks.WithIngressMetrics(metrics),
	)

	if cfg.SigningDisabled() {
		core.LogWithLevel(context.Background(), relay.logger, "warn", "webhook signature verification is disabled", map[string]any{
			"text_code": core.RelayErrorConfigurationDegraded,
			"path":      cfg.Webhook.Path,
		})
	}
	return relay, nil
}

// Handler mounts the webhook endpoint, the real-time channel and /healthz.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(r.cfg.Webhook.Path, r.ingress)
	mux.Handle(r.cfg.Realtime.Path, r.channel)
	mux.HandleFunc("/healthz", r.health)
	return mux
}

// Start launches the webhook processing workers. It is safe to call more than once.
func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.queue.Start(ctx)
		core.LogWithLevel(ctx, r.logger, "info", "relay started", map[string]any{
			"webhook_path":  r.cfg.Webhook.Path,
			"realtime_path": r.cfg.Realtime.Path,
		})
	})
}

// Shutdown drains queued webhook work, then closes every real-time connection with going-away.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() {
		queueErr := r.queue.Stop(ctx)
		channelErr := r.channel.Shutdown(ctx)
		r.stopErr = errors.Join(queueErr, channelErr)
		fields := map[string]any{"pending_jobs": r.queue.Len()}
		if r.stopErr != nil {
			fields["error"] = r.stopErr.Error()
			core.LogWithLevel(ctx, r.logger, "warn", "relay shutdown incomplete", fields)
			return
		}
		core.LogWithLevel(ctx, r.logger, "info", "relay stopped", fields)
	})
	return r.stopErr
}

// Publisher is the entry point for domain events produced outside the channel.
func (r *Relay) Publisher() core.Publisher {
	return r.router
}

func (r *Relay) Registry() *realtime.Registry {
	return r.registry
}

func (r *Relay) Commands() command.Set {
	return r.commands
}

type healthReport struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	QueueDepth  int       `json:"queue_depth"`
	Signing     bool      `json:"signing"`
	Time        time.Time `json:"time"`
}

func (r *Relay) health(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(healthReport{
		Status:      "ok",
		Connections: r.registry.Len(),
		QueueDepth:  r.queue.Len(),
		Signing:     !r.cfg.SigningDisabled(),
		Time:        time.Now().UTC(),
	})
}

type fanoutObserver []core.EventObserver

func (f fanoutObserver) ObserveEvent(ctx context.Context, trace core.EventTrace) {
	for _, observer := range f {
		observer.ObserveEvent(ctx, trace)
	}
}
