package persist

import (
	"context"
	"sync"
)

// InMemoryStore is a thread-safe, in-process Store. It is the default for
// tests and single-process deployments.
type InMemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]Record[T]
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		records: make(map[string]Record[T]),
	}
}

// Save writes the record for key.
func (s *InMemoryStore[T]) Save(_ context.Context, key string, record Record[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

// Load reads the record for key, or ErrNotFound.
func (s *InMemoryStore[T]) Load(_ context.Context, key string) (Record[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return Record[T]{}, ErrNotFound
	}
	return record, nil
}

// Delete removes the record for key.
func (s *InMemoryStore[T]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore[T]) Close() error {
	return nil
}
