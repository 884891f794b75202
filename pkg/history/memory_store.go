package history

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-process map.
// It is intended for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
	closed   bool
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]Message),
	}
}

// Append adds a message to the end of a session's transcript.
func (s *MemoryStore) Append(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

// FindBySession returns a session's messages oldest first.
func (s *MemoryStore) FindBySession(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stored := s.messages[sessionID]
	out := make([]Message, len(stored))
	copy(out, stored)
	return out, nil
}

// DeleteSession removes a session's transcript.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.messages, sessionID)
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
