package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/erp/settlement/internal/domain/shared"
)

const idempotencyCleanupInterval = 5 * time.Minute

// InMemoryIdempotencyStore implements IdempotencyStore on a process-local
// go-cache. Suitable for single-instance deployments and tests.
type InMemoryIdempotencyStore struct {
	entries *gocache.Cache
}

// NewInMemoryIdempotencyStore creates a new in-memory idempotency store.
// Expired keys are evicted every five minutes.
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		entries: gocache.New(gocache.NoExpiration, idempotencyCleanupInterval),
	}
}

// MarkProcessed marks a key as processed for ttl.
// Returns true if the key was newly marked, false if it is still live.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	// Add fails only while an unexpired entry exists
	if err := s.entries.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// IsProcessed checks if a key is marked and not yet expired
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	_, found := s.entries.Get(key)
	return found, nil
}

// Close drops all entries. Safe to call multiple times.
func (s *InMemoryIdempotencyStore) Close() error {
	s.entries.Flush()
	return nil
}

// Size returns the number of entries, including expired ones not yet evicted
func (s *InMemoryIdempotencyStore) Size() int {
	return s.entries.ItemCount()
}

// Ensure InMemoryIdempotencyStore implements IdempotencyStore
var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
