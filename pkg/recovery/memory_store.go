package recovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements SnapshotStore with an in-process map. TTL expiry
// is evaluated lazily on read. Intended for tests and single-node
// development; it offers no durability across restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*memoryEntry // sessionID → entry
	ttl       time.Duration
	closed    bool
}

type memoryEntry struct {
	snap      *SessionSnapshot
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory snapshot store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		snapshots: make(map[string]*memoryEntry),
		ttl:       ttl,
	}
}

// Put writes a snapshot, replacing any prior one for the session.
func (s *MemoryStore) Put(ctx context.Context, snap *SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	cp := *snap
	s.snapshots[snap.SessionID] = &memoryEntry{
		snap:      &cp,
		expiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// GetLatest returns the live snapshot for a session.
func (s *MemoryStore) GetLatest(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	entry, ok := s.snapshots[sessionID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrSnapshotNotFound
	}
	cp := *entry.snap
	return &cp, nil
}

// ListByUser returns all of a user's snapshots, newest first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	now := time.Now()
	var out []*SessionSnapshot
	for _, entry := range s.snapshots {
		if entry.snap.UserID != userID || now.After(entry.expiresAt) {
			continue
		}
		cp := *entry.snap
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Delete removes the snapshot for a session, if any.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.snapshots, sessionID)
	return nil
}

// CleanupExpired deletes snapshots older than maxAge, returning the number
// deleted.
func (s *MemoryStore) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for id, entry := range s.snapshots {
		if entry.snap.Timestamp.Before(cutoff) {
			delete(s.snapshots, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
