package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Storage persists custom role definitions and user-role assignments.
// Assign must revoke the user's active assignment and insert the new row in
// one atomic step.
type Storage interface {
	SaveRole(ctx context.Context, role RoleDefinition) error
	Role(ctx context.Context, id string) (RoleDefinition, error)
	Roles(ctx context.Context) ([]RoleDefinition, error)
	DeleteRole(ctx context.Context, id string) error

	Assign(ctx context.Context, userID, roleID, assignedBy string, at time.Time) (Assignment, error)
	Revoke(ctx context.Context, userID string, at time.Time) (bool, error)
	ActiveAssignment(ctx context.Context, userID string) (*Assignment, error)
	ListActive(ctx context.Context) ([]Assignment, error)
	UsersByRole(ctx context.Context, roleID string) ([]string, error)
	History(ctx context.Context, userID string) ([]Assignment, error)
}

// MemoryStore keeps role state in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]RoleDefinition
	assignments []Assignment
	nextID      int64
}

// NewMemoryStore creates an empty role store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roles: make(map[string]RoleDefinition)}
}

func (m *MemoryStore) SaveRole(ctx context.Context, role RoleDefinition) error {
	if role.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.ID] = role
	return nil
}

func (m *MemoryStore) Role(ctx context.Context, id string) (RoleDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return RoleDefinition{}, ErrNotFound
	}
	return role, nil
}

func (m *MemoryStore) Roles(ctx context.Context) ([]RoleDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoleDefinition, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *MemoryStore) Assign(ctx context.Context, userID, roleID, assignedBy string, at time.Time) (Assignment, error) {
	if userID == "" || roleID == "" {
		return Assignment{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Revoke-then-insert under one lock keeps the single-active invariant.
	for i := range m.assignments {
		if m.assignments[i].UserID == userID && m.assignments[i].RevokedAt == nil {
			revoked := at
			m.assignments[i].RevokedAt = &revoked
		}
	}
	m.nextID++
	a := Assignment{
		ID:         m.nextID,
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: at,
	}
	m.assignments = append(m.assignments, a)
	return a, nil
}

func (m *MemoryStore) Revoke(ctx context.Context, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.assignments {
		if m.assignments[i].UserID == userID && m.assignments[i].RevokedAt == nil {
			revoked := at
			m.assignments[i].RevokedAt = &revoked
			found = true
		}
	}
	return found, nil
}

func (m *MemoryStore) ActiveAssignment(ctx context.Context, userID string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.assignments {
		if m.assignments[i].UserID == userID && m.assignments[i].RevokedAt == nil {
			a := m.assignments[i]
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.RevokedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) UsersByRole(ctx context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.RevokedAt == nil {
			out = append(out, a.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}
