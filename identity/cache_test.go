package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-guardrelay/core"
)

type countingValidator struct {
	mu        sync.Mutex
	calls     map[string]int
	expiresAt time.Time
	now       func() time.Time
}

func (v *countingValidator) ValidateToken(_ context.Context, token string) (core.Principal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.calls == nil {
		v.calls = map[string]int{}
	}
	v.calls[token]++
	if token == "bad" {
		return core.Principal{}, errors.New("rejected")
	}
	extra := map[string]any{"token": token}
	if !v.expiresAt.IsZero() {
		if !v.now().Before(v.expiresAt) {
			return core.Principal{}, core.ErrTokenRejected
		}
		extra["expires_at"] = v.expiresAt
	}
	return core.Principal{ID: "id-" + token, Extra: extra}, nil
}

func (v *countingValidator) count(token string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[token]
}

func newCachedValidator(t *testing.T) (*CachedValidator, *countingValidator) {
	t.Helper()
	cacheService, err := NewTokenCache(time.Minute)
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}
	base := &countingValidator{}
	cached, err := NewCachedValidator(base, cacheService)
	if err != nil {
		t.Fatalf("new cached validator: %v", err)
	}
	return cached, base
}

func TestCachedValidator_MemoizesAcceptedTokens(t *testing.T) {
	cached, base := newCachedValidator(t)
	ctx := context.Background()

	first, err := cached.ValidateToken(ctx, "good")
	if err != nil {
		t.Fatalf("first validate: %v", err)
	}
	first.Extra["token"] = "mutated"

	second, err := cached.ValidateToken(ctx, "good")
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if second.ID != "id-good" {
		t.Fatalf("unexpected principal %+v", second)
	}
	if second.Extra["token"] != "good" {
		t.Fatalf("expected callers to receive independent copies, got %+v", second.Extra)
	}
	if got := base.count("good"); got != 1 {
		t.Fatalf("expected one base validation, got %d", got)
	}
}

func TestCachedValidator_DoesNotCacheRejections(t *testing.T) {
	cached, base := newCachedValidator(t)
	for i := 0; i < 2; i++ {
		if _, err := cached.ValidateToken(context.Background(), "bad"); err == nil {
			t.Fatalf("expected rejection")
		}
	}
	if got := base.count("bad"); got != 2 {
		t.Fatalf("expected rejections to reach base every time, got %d", got)
	}
}

func TestCachedValidator_Forget(t *testing.T) {
	cached, base := newCachedValidator(t)
	ctx := context.Background()
	if _, err := cached.ValidateToken(ctx, "good"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cached.Forget(ctx, "good"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := cached.ValidateToken(ctx, "good"); err != nil {
		t.Fatalf("validate after forget: %v", err)
	}
	if got := base.count("good"); got != 2 {
		t.Fatalf("expected forgotten token to be revalidated, got %d", got)
	}
}

func TestTokenCacheKeyHidesToken(t *testing.T) {
	key := TokenCacheKey("secret-token")
	if strings.Contains(key, "secret-token") {
		t.Fatalf("cache key leaks the token: %s", key)
	}
	if !strings.HasPrefix(key, tokenCacheKeyPrefix+"::") {
		t.Fatalf("unexpected key prefix %s", key)
	}
	if key != TokenCacheKey(" secret-token ") {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
}

func TestNewCachedValidator_Guards(t *testing.T) {
	cacheService, err := NewTokenCache(0)
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}
	if _, err := NewCachedValidator(nil, cacheService); err == nil {
		t.Fatalf("expected nil base to fail")
	}
	if _, err := NewCachedValidator(&countingValidator{}, nil); err == nil {
		t.Fatalf("expected nil cache to fail")
	}
}

func TestCachedValidator_DoesNotServePastTokenExpiry(t *testing.T) {
	cached, base := newCachedValidator(t)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cached.Now = clock
	base.now = clock
	base.expiresAt = now.Add(30 * time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cached.ValidateToken(ctx, "short"); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	if got := base.count("short"); got != 1 {
		t.Fatalf("expected one base validation before expiry, got %d", got)
	}

	now = now.Add(31 * time.Second)
	if _, err := cached.ValidateToken(ctx, "short"); !errors.Is(err, core.ErrTokenRejected) {
		t.Fatalf("expected expired token to be rejected despite the cache, got %v", err)
	}
	if got := base.count("short"); got != 2 {
		t.Fatalf("expected expired entry to be revalidated, got %d", got)
	}
	if _, err := cached.ValidateToken(ctx, "short"); err == nil {
		t.Fatalf("expected expired token to stay rejected")
	}
}
