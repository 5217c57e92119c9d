package ratelimit

import (
	"testing"
	"time"

	"github.com/goliatone/go-guardrelay/core"
)

func TestThrottledError_ToServiceError(t *testing.T) {
	err := ThrottledError{
		Key:        "conn-1",
		Event:      "panic_alert",
		RetryAfter: 3 * time.Second,
	}

	mapped := err.ToServiceError()
	if mapped == nil {
		t.Fatalf("expected mapped error")
	}
	if mapped.TextCode != core.RelayErrorRateLimited {
		t.Fatalf("expected %q text code, got %q", core.RelayErrorRateLimited, mapped.TextCode)
	}
	if mapped.Code != 429 {
		t.Fatalf("expected status code 429, got %d", mapped.Code)
	}
}
