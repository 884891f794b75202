package recovery

import (
	"context"
	"errors"
	"time"
)

// Common errors for snapshot storage.
var (
	// ErrSnapshotNotFound is returned when no snapshot exists for a session.
	// A stored value that fails to parse is reported the same way.
	ErrSnapshotNotFound = errors.New("recovery snapshot not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("snapshot store is closed")
)

// SnapshotStore is the durable, TTL-capable home of session snapshots.
// The store holds at most one live snapshot per session; Put overwrites.
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// Put writes a snapshot, replacing any prior snapshot for the session
	// and arming the configured TTL.
	Put(ctx context.Context, snap *SessionSnapshot) error

	// GetLatest returns the live snapshot for a session.
	// Returns ErrSnapshotNotFound if absent or unparseable.
	GetLatest(ctx context.Context, sessionID string) (*SessionSnapshot, error)

	// ListByUser returns all of a user's snapshots, newest first.
	// Corrupt entries are skipped, not surfaced as failures.
	ListByUser(ctx context.Context, userID string) ([]*SessionSnapshot, error)

	// Delete removes the snapshot for a session, if any.
	Delete(ctx context.Context, sessionID string) error

	// CleanupExpired deletes snapshots older than maxAge and any that fail
	// to parse, returning the number deleted. This backs up TTL expiry; it
	// does not depend on it.
	CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
