package batch

import (
	"context"
	"slices"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps sessions in a map. Every read and write goes
// through Clone, so callers never share a Session with the repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryRepository creates a new in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*Session),
	}
}

// Save stores a copy of session, replacing any previous version.
func (r *MemoryRepository) Save(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

// FindByID returns a copy of the session or ErrBatchNotFound.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return session.Clone(), nil
}

// List returns copies of all sessions, oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session.Clone())
	}
	slices.SortFunc(result, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, nil
}

// Delete removes a session or returns ErrBatchNotFound.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrBatchNotFound
	}
	delete(r.sessions, id)
	return nil
}
