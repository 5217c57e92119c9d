package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-guardrelay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const tokenCacheKeyPrefix = "go-guardrelay::token::v1"

// CachedValidator memoizes accepted tokens so reconnect storms do not re-verify every token.
// Rejections are never cached. Keys hold a digest of the token, never the token itself.
// A cached principal is never served past its "expires_at" claim.
type CachedValidator struct {
	base  core.TokenValidator
	cache repositorycache.CacheService
	Now   func() time.Time
}

func NewCachedValidator(base core.TokenValidator, cacheService repositorycache.CacheService) (*CachedValidator, error) {
	if base == nil {
		return nil, fmt.Errorf("identity: base token validator is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("identity: token cache service is required")
	}
	return &CachedValidator{base: base, cache: cacheService, Now: time.Now}, nil
}

// NewTokenCache builds a cache service whose entries live for ttl. Keep ttl shorter than the
// token lifetime; a cached principal outlives a revoked token by at most ttl.
func NewTokenCache(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

func TokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return tokenCacheKeyPrefix + "::" + hex.EncodeToString(sum[:])
}

func (v *CachedValidator) ValidateToken(ctx context.Context, token string) (core.Principal, error) {
	if v == nil || v.base == nil || v.cache == nil {
		return core.Principal{}, fmt.Errorf("identity: cached token validator is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return v.base.ValidateToken(ctx, token)
	}
	principal, err := repositorycache.GetOrFetch(ctx, v.cache, TokenCacheKey(token), func(ctx context.Context) (core.Principal, error) {
		return v.base.ValidateToken(ctx, token)
	})
	if err != nil {
		return core.Principal{}, err
	}
	if v.expired(principal) {
		if err := v.cache.Delete(ctx, TokenCacheKey(token)); err != nil {
			return core.Principal{}, err
		}
		principal, err = v.base.ValidateToken(ctx, token)
		if err != nil {
			return core.Principal{}, err
		}
	}
	return clonePrincipal(principal), nil
}

func (v *CachedValidator) expired(principal core.Principal) bool {
	expiresAt, ok := principal.Extra["expires_at"].(time.Time)
	if !ok || expiresAt.IsZero() {
		return false
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return !now().Before(expiresAt)
}

// Forget drops a cached token, for example after logout.
func (v *CachedValidator) Forget(ctx context.Context, token string) error {
	if v == nil || v.cache == nil {
		return nil
	}
	return v.cache.Delete(ctx, TokenCacheKey(token))
}

func clonePrincipal(principal core.Principal) core.Principal {
	cloned := principal
	if len(principal.Extra) > 0 {
		cloned.Extra = make(map[string]any, len(principal.Extra))
		for key, value := range principal.Extra {
			cloned.Extra[key] = value
		}
	}
	return cloned
}

var _ core.TokenValidator = (*CachedValidator)(nil)
