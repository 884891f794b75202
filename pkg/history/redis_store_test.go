package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewRedisStoreFromClient(client, "test:", 0)
	t.Cleanup(func() {
		_ = store.Close()
		_ = client.Close()
	})
	return store
}

func TestRedisStore_AppendPreservesOrder(t *testing.T) {
	store := setupMiniredis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := NewMessage("sess-1", SenderUser, fmt.Sprintf("message %d", i))
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	messages, err := store.FindBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("FindBySession failed: %v", err)
	}
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		want := fmt.Sprintf("message %d", i)
		if msg.Content != want {
			t.Errorf("message %d: got %q, want %q", i, msg.Content, want)
		}
		if msg.ID == "" {
			t.Errorf("message %d missing ID", i)
		}
	}
}

func TestRedisStore_FindBySession_Unknown(t *testing.T) {
	store := setupMiniredis(t)

	messages, err := store.FindBySession(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("FindBySession failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty transcript, got %d messages", len(messages))
	}
}

func TestRedisStore_SessionsAreIsolated(t *testing.T) {
	store := setupMiniredis(t)
	ctx := context.Background()

	if err := store.Append(ctx, NewMessage("sess-a", SenderUser, "for a")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, NewMessage("sess-b", SenderAI, "for b")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	messages, err := store.FindBySession(ctx, "sess-a")
	if err != nil {
		t.Fatalf("FindBySession failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "for a" {
		t.Errorf("transcript leak across sessions: %v", messages)
	}
}

func TestRedisStore_DeleteSession(t *testing.T) {
	store := setupMiniredis(t)
	ctx := context.Background()

	if err := store.Append(ctx, NewMessage("sess-1", SenderSystem, "hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	messages, err := store.FindBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("FindBySession failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty transcript after delete, got %d", len(messages))
	}
}

func TestRedisStore_ClosedStore(t *testing.T) {
	store := setupMiniredis(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := store.Append(context.Background(), NewMessage("sess-1", SenderUser, "x")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
