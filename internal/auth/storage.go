package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Storage persists token revocations and API keys. Implementations must be
// safe for concurrent use.
type Storage interface {
	// RevokeToken blacklists a token id until its natural expiry.
	RevokeToken(ctx context.Context, token RevokedToken) error
	// IsTokenRevoked reports whether the token id is on the blacklist.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	// DeleteExpiredTokens drops blacklist rows whose expiry is in the past
	// and returns how many were removed.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	CreateAPIKey(ctx context.Context, rec APIKeyRecord) error
	APIKeyByHash(ctx context.Context, hash string) (APIKeyRecord, error)
	APIKeyByID(ctx context.Context, id string) (APIKeyRecord, error)
	// ListAPIKeys returns keys for one user, or all keys when userID is
	// empty, newest first.
	ListAPIKeys(ctx context.Context, userID string) ([]APIKeyRecord, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	// TouchAPIKey records the last successful use of a key.
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// MemoryStore is the in-memory Storage used by tests and by deployments
// that run without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	revoked map[string]RevokedToken
	keys    map[string]APIKeyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		revoked: make(map[string]RevokedToken),
		keys:    make(map[string]APIKeyRecord),
	}
}

func (s *MemoryStore) RevokeToken(ctx context.Context, token RevokedToken) error {
	if token.JTI == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token.JTI] = token
	return nil
}

func (s *MemoryStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *MemoryStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for jti, tok := range s.revoked {
		if tok.ExpiresAt.Before(now) {
			delete(s.revoked, jti)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, rec APIKeyRecord) error {
	if rec.ID == "" || rec.KeyHash == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[rec.ID] = rec
	return nil
}

func (s *MemoryStore) APIKeyByHash(ctx context.Context, hash string) (APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.keys {
		if rec.KeyHash == hash {
			return rec, nil
		}
	}
	return APIKeyRecord{}, ErrNotFound
}

func (s *MemoryStore) APIKeyByID(ctx context.Context, id string) (APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[id]
	if !ok {
		return APIKeyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListAPIKeys(ctx context.Context, userID string) ([]APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]APIKeyRecord, 0, len(s.keys))
	for _, rec := range s.keys {
		if userID != "" && rec.UserID != userID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	if rec.RevokedAt == nil {
		t := at
		rec.RevokedAt = &t
		s.keys[id] = rec
	}
	return nil
}

func (s *MemoryStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	rec.LastUsedAt = &t
	s.keys[id] = rec
	return nil
}
