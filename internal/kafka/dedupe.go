package kafka

import (
	"context"
	"sync"
	"time"
)

// DedupeStore provides interface for message deduplication
type DedupeStore interface {
	Exists(messageID string) bool
	Add(messageID string) error
}

// InMemoryDedupeStore remembers processed ids for ttl.
type InMemoryDedupeStore struct {
	mu    sync.RWMutex
	store map[string]time.Time
	ttl   time.Duration
}

func NewInMemoryDedupeStore(ttl time.Duration) *InMemoryDedupeStore {
	return &InMemoryDedupeStore{
		store: make(map[string]time.Time),
		ttl:   ttl,
	}
}

func (s *InMemoryDedupeStore) Exists(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, exists := s.store[messageID]
	return exists && time.Now().Before(expiry)
}

func (s *InMemoryDedupeStore) Add(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[messageID] = time.Now().Add(s.ttl)
	return nil
}

// Cleanup drops expired ids every interval until ctx is done.
func (s *InMemoryDedupeStore) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evict(time.Now())
		}
	}
}

func (s *InMemoryDedupeStore) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, expiry := range s.store {
		if now.After(expiry) {
			delete(s.store, id)
		}
	}
}

func (s *InMemoryDedupeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}
