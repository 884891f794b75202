package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis list per session.
type RedisStore struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	mu         sync.RWMutex
	closed     bool
}

// RedisConfig holds Redis connection configuration for the history store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for transcript keys (default: "chat:").
	Prefix string
	// MessageTTL is the transcript expiry duration (0 = never expire).
	MessageTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisStore creates a Redis-backed history store and verifies the
// connection.
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

	s := NewRedisStoreFromClient(client, cfg.Prefix, cfg.MessageTTL)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient creates a history store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "chat:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) transcriptKey(sessionID string) string {
	return s.prefix + "messages:" + sessionID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Append adds a message to the end of a session's transcript.
func (s *RedisStore) Append(ctx context.Context, msg *Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := s.transcriptKey(msg.SessionID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if s.ttl > 0 {
		// Expire failure is non-fatal; the message itself was written.
		_ = s.client.Expire(ctx, key, s.ttl).Err()
	}

	return nil
}

// FindBySession returns a session's messages oldest first.
func (s *RedisStore) FindBySession(ctx context.Context, sessionID string) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, d := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(d), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// DeleteSession removes a session's transcript.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.transcriptKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

// Close marks the store closed. The underlying client is closed only when
// this store created it.
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
