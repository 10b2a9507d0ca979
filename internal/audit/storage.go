package audit

import (
	"context"
	"sync"
)

// Storage describes append-only persistence for ledger entries. Iterate must
// yield entries oldest to newest and be restartable per call.
type Storage interface {
	Append(ctx context.Context, e *Entry) error
	Last(ctx context.Context) (*Entry, error)
	Iterate(ctx context.Context, fn func(*Entry) error) error
	Count(ctx context.Context) (int64, error)
	ByID(ctx context.Context, id string) (*Entry, error)
}

// MemoryStore keeps the ledger in process memory. Used by tests and by
// deployments that have not configured Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

// NewMemoryStore creates an empty ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if e == nil || e.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e.clone())
	m.byID[e.ID] = len(m.entries) - 1
	return nil
}

func (m *MemoryStore) Last(ctx context.Context) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, ErrNotFound
	}
	return m.entries[len(m.entries)-1].clone(), nil
}

func (m *MemoryStore) Iterate(ctx context.Context, fn func(*Entry) error) error {
	m.mu.RLock()
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryStore) ByID(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.entries[idx].clone(), nil
}

// tamper overwrites a stored entry in place. Tests use it to simulate an
// attacker editing history behind the chain's back.
func (m *MemoryStore) tamper(id string, fn func(*Entry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byID[id]
	if !ok {
		return false
	}
	fn(&m.entries[idx])
	return true
}
