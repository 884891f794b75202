package session

import "context"

// StateStore abstracts session state persistence.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// Save creates or updates a session state.
	Save(ctx context.Context, state *State) error

	// Load retrieves a session state by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Load(ctx context.Context, sessionID string) (*State, error)

	// Delete removes a session state.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}
