package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements SnapshotStore using Redis. Snapshots live under
// {prefix}{userID}:{sessionID} with a store-enforced TTL, so Redis is the
// cross-instance source of truth for "does a recoverable snapshot exist".
type RedisStore struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	log        *slog.Logger
	mu         sync.RWMutex
	closed     bool
}

// RedisConfig holds Redis connection configuration for the snapshot store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for snapshot keys (default: "recovery:").
	Prefix string
	// SnapshotTTL is the snapshot expiry duration (default: 24h).
	SnapshotTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a Redis snapshot store and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.Prefix, cfg.SnapshotTTL)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient creates a snapshot store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "recovery:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		log:    slog.Default().With("component", "snapshot-store"),
	}
}

// Key helpers
func (s *RedisStore) snapshotKey(userID, sessionID string) string {
	return s.prefix + userID + ":" + sessionID
}

func (s *RedisStore) sessionPattern(sessionID string) string {
	return s.prefix + "*:" + sessionID
}

func (s *RedisStore) userPattern(userID string) string {
	return s.prefix + userID + ":*"
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put writes a snapshot, replacing any prior one for the session.
func (s *RedisStore) Put(ctx context.Context, snap *SessionSnapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := s.snapshotKey(snap.UserID, snap.SessionID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// GetLatest looks the snapshot up by key pattern; the session ID alone does
// not carry the user segment of the key.
func (s *RedisStore) GetLatest(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := s.scanKeys(ctx, s.sessionPattern(sessionID))
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrSnapshotNotFound
	}

	data, err := s.client.Get(ctx, keys[0]).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Unparseable payloads count as absent; the cleanup sweep will
		// delete them.
		s.log.Warn("discarding malformed snapshot", "key", keys[0], "error", err)
		return nil, ErrSnapshotNotFound
	}
	return &snap, nil
}

// ListByUser returns all of a user's snapshots, newest first.
func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*SessionSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := s.scanKeys(ctx, s.userPattern(userID))
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}

	snapshots := make([]*SessionSnapshot, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get snapshot: %w", err)
		}

		var snap SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			s.log.Warn("skipping corrupt snapshot", "key", key, "error", err)
			continue
		}
		snapshots = append(snapshots, &snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// Delete removes the snapshot for a session, if any.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	keys, err := s.scanKeys(ctx, s.sessionPattern(sessionID))
	if err != nil {
		return fmt.Errorf("scan snapshots: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// CleanupExpired deletes snapshots older than maxAge and any that fail to
// parse, returning the number deleted.
func (s *RedisStore) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	keys, err := s.scanKeys(ctx, s.prefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan snapshots: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return deleted, fmt.Errorf("get snapshot: %w", err)
		}

		var snap SessionSnapshot
		stale := false
		if err := json.Unmarshal(data, &snap); err != nil {
			s.log.Warn("deleting malformed snapshot", "key", key, "error", err)
			stale = true
		} else if snap.Timestamp.Before(cutoff) {
			stale = true
		}

		if stale {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("delete snapshot: %w", err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close marks the store closed. The underlying client is closed only when
// this store created it; shared clients stay open for their other users.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
