package rotation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Storage persists secret metadata and time-boxed previous values.
// Implementations must be safe for concurrent use.
type Storage interface {
	SaveMetadata(ctx context.Context, meta SecretMetadata) error
	Metadata(ctx context.Context, name string) (SecretMetadata, error)
	ListMetadata(ctx context.Context) ([]SecretMetadata, error)

	SavePreviousValue(ctx context.Context, pv PreviousValue) error
	PreviousValue(ctx context.Context, name string) (PreviousValue, error)
	DeletePreviousValue(ctx context.Context, name string) error
	// DeleteExpiredPreviousValues removes values whose grace window has
	// closed and returns how many were removed.
	DeleteExpiredPreviousValues(ctx context.Context, now time.Time) (int64, error)
}

// MemoryStore is the in-memory Storage used by tests and by deployments
// that run without Postgres.
type MemoryStore struct {
	mu   sync.RWMutex
	meta map[string]SecretMetadata
	prev map[string]PreviousValue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meta: make(map[string]SecretMetadata),
		prev: make(map[string]PreviousValue),
	}
}

func (s *MemoryStore) SaveMetadata(ctx context.Context, meta SecretMetadata) error {
	if meta.Name == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.Name] = meta
	return nil
}

func (s *MemoryStore) Metadata(ctx context.Context, name string) (SecretMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[name]
	if !ok {
		return SecretMetadata{}, ErrNotFound
	}
	return meta, nil
}

func (s *MemoryStore) ListMetadata(ctx context.Context) ([]SecretMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SecretMetadata, 0, len(s.meta))
	for _, meta := range s.meta {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SavePreviousValue(ctx context.Context, pv PreviousValue) error {
	if pv.Name == "" || pv.Value == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev[pv.Name] = pv
	return nil
}

func (s *MemoryStore) PreviousValue(ctx context.Context, name string) (PreviousValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pv, ok := s.prev[name]
	if !ok {
		return PreviousValue{}, ErrNotFound
	}
	return pv, nil
}

func (s *MemoryStore) DeletePreviousValue(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prev, name)
	return nil
}

func (s *MemoryStore) DeleteExpiredPreviousValues(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for name, pv := range s.prev {
		if !pv.ExpiresAt.After(now) {
			delete(s.prev, name)
			removed++
		}
	}
	return removed, nil
}
