package session

import (
	"context"
	"sync"
)

// MemoryBackend implements StateStore with an in-process map.
// It is intended for tests and single-node development.
type MemoryBackend struct {
	mu     sync.RWMutex
	states map[string]*State
	closed bool
}

// NewMemoryBackend creates an empty in-memory state store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states: make(map[string]*State),
	}
}

// Save creates or updates a session state.
func (b *MemoryBackend) Save(ctx context.Context, state *State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStoreClosed
	}
	cp := *state
	cp.Context = state.Context.Clone()
	b.states[state.SessionID] = &cp
	return nil
}

// Load retrieves a session state by ID.
func (b *MemoryBackend) Load(ctx context.Context, sessionID string) (*State, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStoreClosed
	}
	stored, ok := b.states[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *stored
	cp.Context = stored.Context.Clone()
	return &cp, nil
}

// Delete removes a session state.
func (b *MemoryBackend) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStoreClosed
	}
	delete(b.states, sessionID)
	return nil
}

// Close marks the store closed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
