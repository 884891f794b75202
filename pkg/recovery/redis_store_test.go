package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/traindeck-dev/traindeck/pkg/session"
)

func setupSnapshotStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewRedisStoreFromClient(client, "", time.Hour)
	t.Cleanup(func() {
		_ = store.Close()
		_ = client.Close()
	})
	return mr, store
}

func testSnapshot(sessionID, userID string, ts time.Time) *SessionSnapshot {
	sctx := session.Context{"scenario": "triage"}
	return &SessionSnapshot{
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: ts,
		Context:   sctx,
		RecoveryMetadata: RecoveryMetadata{
			SnapshotReason: ReasonPeriodic,
			Version:        SnapshotVersion,
			Checksum:       Checksum(sctx, 0),
		},
	}
}

func TestRedisStore_PutAndGetLatest(t *testing.T) {
	_, store := setupSnapshotStore(t)
	ctx := context.Background()

	snap := testSnapshot("sess-1", "user-1", time.Now().UTC())
	if err := store.Put(ctx, snap); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.GetLatest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID mismatch: %s", got.UserID)
	}
	if !ValidateSnapshot(got) {
		t.Error("round-tripped snapshot should validate")
	}
}

func TestRedisStore_PutOverwrites(t *testing.T) {
	mr, store := setupSnapshotStore(t)
	ctx := context.Background()

	older := testSnapshot("sess-1", "user-1", time.Now().UTC().Add(-time.Minute))
	newer := testSnapshot("sess-1", "user-1", time.Now().UTC())
	newer.Context = session.Context{"scenario": "updated"}
	newer.RecoveryMetadata.Checksum = Checksum(newer.Context, 0)

	if err := store.Put(ctx, older); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, newer); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.GetLatest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if got.Context["scenario"] != "updated" {
		t.Errorf("expected the overwrite to win: %v", got.Context)
	}

	// Exactly one live key per session.
	if keys := mr.Keys(); len(keys) != 1 {
		t.Errorf("expected 1 key, got %d: %v", len(keys), keys)
	}
}

func TestRedisStore_GetLatest_NotFound(t *testing.T) {
	_, store := setupSnapshotStore(t)

	_, err := store.GetLatest(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestRedisStore_GetLatest_MalformedTreatedAsAbsent(t *testing.T) {
	mr, store := setupSnapshotStore(t)

	mr.Set("recovery:user-1:sess-1", "{not json")

	_, err := store.GetLatest(context.Background(), "sess-1")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for malformed payload, got %v", err)
	}
}

func TestRedisStore_TTLArmed(t *testing.T) {
	mr, store := setupSnapshotStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("sess-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ttl := mr.TTL("recovery:user-1:sess-1")
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("unexpected TTL: %v", ttl)
	}

	// Past the TTL the snapshot is gone.
	mr.FastForward(2 * time.Hour)
	if _, err := store.GetLatest(ctx, "sess-1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound after TTL, got %v", err)
	}
}

func TestRedisStore_ListByUser(t *testing.T) {
	mr, store := setupSnapshotStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		snap := testSnapshot(fmt.Sprintf("sess-%d", i), "user-1", now.Add(time.Duration(i)*time.Minute))
		if err := store.Put(ctx, snap); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := store.Put(ctx, testSnapshot("sess-other", "user-2", now)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// A corrupt entry is skipped, not fatal.
	mr.Set("recovery:user-1:sess-corrupt", "garbage")

	snaps, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Timestamp.After(snaps[i-1].Timestamp) {
			t.Errorf("snapshots not newest first at index %d", i)
		}
	}
	for _, snap := range snaps {
		if snap.UserID != "user-1" {
			t.Errorf("foreign snapshot in listing: %s", snap.UserID)
		}
	}
}

func TestRedisStore_Delete(t *testing.T) {
	_, store := setupSnapshotStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, testSnapshot("sess-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetLatest(ctx, "sess-1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound after delete, got %v", err)
	}

	// Deleting an absent snapshot is not an error.
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("repeat Delete failed: %v", err)
	}
}

func TestRedisStore_CleanupExpired(t *testing.T) {
	mr, store := setupSnapshotStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := testSnapshot("sess-old", "user-1", now.Add(-48*time.Hour))
	fresh := testSnapshot("sess-new", "user-1", now.Add(-time.Minute))
	if err := store.Put(ctx, stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, fresh); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mr.Set("recovery:user-1:sess-corrupt", "garbage")

	deleted, err := store.CleanupExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deletions (stale + corrupt), got %d", deleted)
	}

	if _, err := store.GetLatest(ctx, "sess-old"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("stale snapshot survived cleanup: %v", err)
	}
	if _, err := store.GetLatest(ctx, "sess-new"); err != nil {
		t.Errorf("fresh snapshot should survive cleanup: %v", err)
	}
}

func TestRedisStore_ClosedStore(t *testing.T) {
	_, store := setupSnapshotStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := store.Ping(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.GetLatest(context.Background(), "sess-1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
