package batch

import (
	"context"
	"errors"
)

// ErrBatchNotFound is returned when a batch cannot be found by ID.
var ErrBatchNotFound = errors.New("batch not found")

// Repository defines the interface for session persistence.
// Sessions live only as long as the process; there is no durable store.
type Repository interface {
	// Save persists a session.
	// If the session already exists, it should be updated.
	Save(ctx context.Context, session *Session) error

	// FindByID retrieves a session by its unique identifier.
	// Returns ErrBatchNotFound if the session does not exist.
	FindByID(ctx context.Context, id string) (*Session, error)

	// List returns all sessions.
	List(ctx context.Context) ([]*Session, error)

	// Delete removes a session.
	// Returns ErrBatchNotFound if the session does not exist.
	Delete(ctx context.Context, id string) error
}
