package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) *RedisBackend {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	backend := NewRedisBackendFromClient(client, "test:", 0)
	t.Cleanup(func() {
		_ = backend.Close()
		_ = client.Close()
	})
	return backend
}

func TestRedisBackend_SaveAndLoad(t *testing.T) {
	backend := setupMiniredis(t)
	ctx := context.Background()

	state := &State{
		SessionID: "sess-123",
		UserID:    "user-456",
		Status:    StatusActive,
		Context:   Context{"difficulty": "hard"},
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := backend.Save(ctx, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := backend.Load(ctx, "sess-123")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.UserID != "user-456" {
		t.Errorf("UserID mismatch: got %s", loaded.UserID)
	}
	if loaded.Status != StatusActive {
		t.Errorf("Status mismatch: got %s", loaded.Status)
	}
	if loaded.Context["difficulty"] != "hard" {
		t.Errorf("Context mismatch: %v", loaded.Context)
	}
}

func TestRedisBackend_Load_NotFound(t *testing.T) {
	backend := setupMiniredis(t)

	_, err := backend.Load(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRedisBackend_Delete(t *testing.T) {
	backend := setupMiniredis(t)
	ctx := context.Background()

	state := &State{SessionID: "sess-del", UserID: "user-1", Status: StatusActive}
	if err := backend.Save(ctx, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := backend.Delete(ctx, "sess-del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := backend.Load(ctx, "sess-del")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestRedisBackend_ClosedStore(t *testing.T) {
	backend := setupMiniredis(t)
	if err := backend.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := backend.Load(context.Background(), "sess-1")
	if !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
