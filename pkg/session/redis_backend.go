package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements StateStore using Redis.
// It provides distributed session state suitable for multi-node deployments.
type RedisBackend struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	mu         sync.RWMutex
	closed     bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all state keys (default: "session:").
	Prefix string
	// StateTTL is the state expiry duration (0 = never expire).
	StateTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a new Redis state store and verifies the
// connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
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

	b := NewRedisBackendFromClient(client, cfg.Prefix, cfg.StateTTL)
	b.ownsClient = true
	return b, nil
}

// NewRedisBackendFromClient creates a state store from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) stateKey(sessionID string) string {
	return b.prefix + "state:" + sessionID
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save creates or updates a session state.
func (b *RedisBackend) Save(ctx context.Context, state *State) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := b.client.Set(ctx, b.stateKey(state.SessionID), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Load retrieves a session state by ID.
func (b *RedisBackend) Load(ctx context.Context, sessionID string) (*State, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes a session state.
func (b *RedisBackend) Delete(ctx context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	if err := b.client.Del(ctx, b.stateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Close marks the backend closed. The underlying client is closed only when
// this backend created it.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
