package webhooks

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"

	"github.com/goliatone/go-job/queue"
)

const (
	hubModeSubscribe = "subscribe"

	defaultMaxBodyBytes = 1 << 20
)

type IngressConfig struct {
	VerifyToken  string
	AppSecret    string
	MaxBodyBytes int64
}

// Ingress serves the webhook endpoint: the GET subscription handshake and POST deliveries.
// A POST is answered as soon as its signature is checked; parsing and dispatch happen later
// on the processing queue.
type Ingress struct {
	verifyToken  string
	appSecret    []byte
	maxBodyBytes int64
	verifier     HMACVerifier
	queue        queue.Enqueuer
	processor    *Processor
	logger       core.Logger
	metrics      core.MetricsRecorder
	now          func() time.Time
}

type IngressOption func(*Ingress)

func WithIngressLogger(logger core.Logger) IngressOption {
	return func(i *Ingress) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithIngressMetrics(metrics core.MetricsRecorder) IngressOption {
	return func(i *Ingress) {
		i.metrics = core.EnsureMetrics(metrics)
	}
}

func WithIngressVerifier(verifier HMACVerifier) IngressOption {
	return func(i *Ingress) {
		i.verifier = verifier
	}
}

func WithIngressClock(now func() time.Time) IngressOption {
	return func(i *Ingress) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIngress builds the handler. When enqueuer is nil, phase 2 runs on a detached goroutine
// using processor directly.
func NewIngress(cfg IngressConfig, enqueuer queue.Enqueuer, processor *Processor, opts ...IngressOption) *Ingress {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	ingress := &Ingress{
		verifyToken:  cfg.VerifyToken,
		maxBodyBytes: maxBody,
		verifier:     DefaultVerifier(),
		queue:        enqueuer,
		processor:    processor,
		logger:       core.ResolveLogger("webhooks.ingress", nil, nil),
		metrics:      core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if secret := strings.TrimSpace(cfg.AppSecret); secret != "" {
		ingress.appSecret = []byte(secret)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ingress)
		}
	}
	return ingress
}

func (i *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		i.handshake(w, r)
	case http.MethodPost:
		i.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		i.count(r.Context(), r.Method, "method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (i *Ingress) handshake(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != hubModeSubscribe || !i.tokenMatches(token) {
		i.count(r.Context(), r.Method, "rejected")
		core.LogWithLevel(r.Context(), i.logger, "warn", "webhook handshake rejected", map[string]any{
			"mode": mode,
		})
		w.WriteHeader(http.StatusForbidden)
		return
	}
	i.count(r.Context(), r.Method, "verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// tokenMatches never accepts when no verify token is configured.
func (i *Ingress) tokenMatches(token string) bool {
	if i.verifyToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(i.verifyToken)) == 1
}

func (i *Ingress) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	receivedAt := i.now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, i.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		i.count(ctx, r.Method, "unreadable")
		core.LogWithLevel(ctx, i.logger, "warn", "webhook body unreadable", map[string]any{
			"error": err.Error(),
		})
		w.WriteHeader(status)
		return
	}

	envelope := Envelope{Headers: r.Header, Body: body}
	result := i.verifier.Verify(envelope.Body, envelope.Signature(), i.appSecret)
	if !result.Verified {
		i.count(ctx, r.Method, "rejected")
		core.LogWithLevel(ctx, i.logger, "warn", "webhook signature rejected", map[string]any{
			"reason": string(result.Reason),
			"code":   core.RelayErrorAuthRejected,
		})
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// Phase 1: acknowledge before any parsing so a slow handler never delays the sender.
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	outcome := "accepted"
	if result.Reason == ReasonNoSecretConfigured {
		outcome = "accepted_unsigned"
	}
	i.count(ctx, r.Method, outcome)

	i.schedule(ctx, envelope, receivedAt)
}

// schedule hands phase 2 off. Failures here are logged and never reach the sender.
func (i *Ingress) schedule(ctx context.Context, envelope Envelope, receivedAt time.Time) {
	detached := context.WithoutCancel(ctx)
	if i.queue != nil {
		msg := NewBodyMessage(envelope.Body, envelope.Signature(), receivedAt)
		if err := i.queue.Enqueue(detached, msg); err != nil {
			core.LogWithLevel(ctx, i.logger, "error", "webhook processing not scheduled", map[string]any{
				"error": err.Error(),
				"code":  core.RelayErrorTransportFailure,
			})
		}
		return
	}
	if i.processor == nil {
		return
	}
	body := append([]byte(nil), envelope.Body...)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				core.LogWithLevel(detached, i.logger, "error", "webhook processing panicked", map[string]any{
					"panic": recovered,
				})
			}
		}()
		i.processor.Process(detached, body, receivedAt)
	}()
}

func (i *Ingress) count(ctx context.Context, method, outcome string) {
	core.EnsureMetrics(i.metrics).IncCounter(ctx, core.MetricWebhookRequests, 1, map[string]string{
		"method":  method,
		"outcome": outcome,
	})
}

var _ http.Handler = (*Ingress)(nil)
