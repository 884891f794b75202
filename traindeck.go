// Package traindeck wires the session-continuity core of the training
// simulator: the session manager, chat-history store, and recovery
// coordinator, all sharing one Redis connection.
package traindeck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/traindeck-dev/traindeck/pkg/config"
	"github.com/traindeck-dev/traindeck/pkg/events"
	"github.com/traindeck-dev/traindeck/pkg/history"
	"github.com/traindeck-dev/traindeck/pkg/recovery"
	"github.com/traindeck-dev/traindeck/pkg/session"
)

// Runtime holds the assembled service components.
type Runtime struct {
	Coordinator *recovery.Coordinator
	Manager     *session.Manager
	History     history.Store
	Bus         *events.Bus

	client *redis.Client
	store  recovery.SnapshotStore
}

// Open builds the runtime from configuration and verifies the Redis
// connection. Call Start to bring the coordinator up and Close to tear
// everything down.
func Open(cfg *config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	bus := events.NewBus()
	snapStore := recovery.NewRedisStoreFromClient(client, "", cfg.Recovery.SnapshotTTL)
	stateStore := session.NewRedisBackendFromClient(client, "", 0)
	histStore := history.NewRedisStoreFromClient(client, "", cfg.Recovery.SnapshotTTL)

	manager := session.NewManager(stateStore, bus)
	coordinator := recovery.NewCoordinator(snapStore, manager, histStore, bus, cfg.Recovery)

	return &Runtime{
		Coordinator: coordinator,
		Manager:     manager,
		History:     histStore,
		Bus:         bus,
		client:      client,
		store:       snapStore,
	}, nil
}

// Start initializes the recovery coordinator. It must succeed before the
// runtime serves any traffic.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Coordinator.Initialize(ctx)
}

// PingStore checks the durable store, for readiness probes.
func (r *Runtime) PingStore(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Close tears the runtime down in dependency order.
func (r *Runtime) Close() error {
	var errs []error

	if err := r.Coordinator.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	if err := r.History.Close(); err != nil {
		errs = append(errs, err)
	}
	r.Bus.Close()

	// The stores share this client and do not own it.
	if err := r.client.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
