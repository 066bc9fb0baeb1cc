package history

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned when a key has no recorded history.
var ErrNotFound = errors.New("history not found")

// Store is a key-value store of duration lists.
type Store interface {
	Get(ctx context.Context, key string) ([]float64, error)
	Put(ctx context.Context, key string, values []float64) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]float64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]float64)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}

	return slices.Clone(values), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = slices.Clone(values)

	return nil
}
