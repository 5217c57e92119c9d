package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Status    claimStatus
	ClaimID   string
	TTL       time.Duration
	ExpiresAt time.Time
}

// InMemoryClaimStore keeps dedupe keys for a TTL. A failed claim is released at once so the
// client may resend.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: idempotency key is required", nil)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	if entry, exists := s.entries[key]; exists && now.Before(entry.ExpiresAt) {
		return "", false, nil
	}
	s.nextID++
	claimID := fmt.Sprintf("claim_%d", s.nextID)
	s.entries[key] = claimEntry{
		Status:    claimStatusProcessing,
		ClaimID:   claimID,
		TTL:       ttl,
		ExpiresAt: now.Add(ttl),
	}
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[strings.TrimSpace(claimID)]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID {
		return nil
	}
	entry.Status = claimStatusComplete
	entry.ExpiresAt = s.now().Add(entry.TTL)
	s.entries[key] = entry
	return nil
}

func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[strings.TrimSpace(claimID)]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	if entry, exists := s.entries[key]; exists && entry.ClaimID == claimID {
		delete(s.entries, key)
	}
	return nil
}

func (s *InMemoryClaimStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.claims, entry.ClaimID)
		delete(s.entries, key)
	}
}

var _ ClaimStore = (*InMemoryClaimStore)(nil)
