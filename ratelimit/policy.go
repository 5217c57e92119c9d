package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
	"golang.org/x/time/rate"
)

type ThrottledError struct {
	Key        string
	Event      string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: key %q throttled on %q for %s",
		strings.TrimSpace(e.Key),
		strings.TrimSpace(e.Event),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"key": strings.TrimSpace(e.Key),
	}
	if event := strings.TrimSpace(e.Event); event != "" {
		metadata["event"] = event
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.RelayErrorRateLimited).
		WithMetadata(metadata)
}

// KeyedLimiter holds one token bucket per key (a connection id in practice).
// A non-positive rate disables limiting.
type KeyedLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
	}
}

func (l *KeyedLimiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow consumes one token for key, or returns a ThrottledError with the wait until the next one.
func (l *KeyedLimiter) Allow(key string, event string) error {
	if !l.Enabled() {
		return nil
	}
	limiter := l.limiterFor(key)
	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return ThrottledError{Key: key, Event: event}
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	reservation.CancelAt(now)
	return ThrottledError{Key: key, Event: event, RetryAfter: delay}
}

// Forget drops the bucket for key; called when a connection goes away.
func (l *KeyedLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}
