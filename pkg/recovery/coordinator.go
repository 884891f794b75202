package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/traindeck-dev/traindeck/pkg/events"
	"github.com/traindeck-dev/traindeck/pkg/history"
	"github.com/traindeck-dev/traindeck/pkg/observability"
	"github.com/traindeck-dev/traindeck/pkg/session"
)

// SessionManager is the narrow collaborator interface the coordinator
// consumes for session context and lifecycle control.
type SessionManager interface {
	// GetSessionContext returns the session's context, or nil if the
	// session is unknown or already ended.
	GetSessionContext(ctx context.Context, sessionID string) (session.Context, error)
	// RestoreSessionContext installs a recovered context for a session.
	RestoreSessionContext(ctx context.Context, sessionID, userID string, sctx session.Context) error
	// ResumeSession makes a paused session active again.
	ResumeSession(ctx context.Context, sessionID, userID string) error
	// PauseSession suspends an active session.
	PauseSession(ctx context.Context, sessionID, userID, reason string) error
	// AbandonSession terminally ends a session.
	AbandonSession(ctx context.Context, sessionID, userID, reason string) error
}

// HistoryReader is the chat-transcript collaborator.
type HistoryReader interface {
	// FindBySession returns a session's messages oldest first.
	FindBySession(ctx context.Context, sessionID string) ([]history.Message, error)
}

// manualSnapshotBurst caps on-demand snapshots per session to absorb
// client retry storms without hammering the store.
const manualSnapshotBurst = 3

// Coordinator is the session-recovery entry point. It owns the connection
// tracker, the per-session snapshot schedule, the periodic sweeps, and the
// recovery orchestration itself.
//
// Initialize must succeed before any other method is used; Cleanup releases
// timers and the store connection.
type Coordinator struct {
	store   SnapshotStore
	manager SessionManager
	reader  HistoryReader
	bus     *events.Bus
	cfg     Config

	table *tracker
	sched *scheduler
	mon   *monitor

	log    *slog.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	attempts    map[string]int
	policy      AttemptPolicy
	initialized bool
	closed      bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator wires a coordinator from its collaborators. Zero config
// fields fall back to DefaultConfig values.
func NewCoordinator(store SnapshotStore, manager SessionManager, reader HistoryReader, bus *events.Bus, cfg Config) *Coordinator {
	cfg = withDefaults(cfg)

	c := &Coordinator{
		store:    store,
		manager:  manager,
		reader:   reader,
		bus:      bus,
		cfg:      cfg,
		table:    newTracker(),
		log:      slog.Default().With("component", "recovery"),
		tracer:   otel.Tracer("traindeck/recovery"),
		limiters: make(map[string]*rate.Limiter),
		attempts: make(map[string]int),
		stopCh:   make(chan struct{}),
	}
	c.sched = newScheduler(cfg.SnapshotInterval, c.periodicSnapshot)
	return c
}

// SetAttemptPolicy installs the policy hook consulted before each recovery
// attempt. Config.MaxRecoveryAttempts is available to the hook; no policy
// is enforced by default.
func (c *Coordinator) SetAttemptPolicy(policy AttemptPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// Initialize verifies the durable store is reachable and starts the event
// consumer and periodic sweeps. Store unavailability here is fatal.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("snapshot store unavailable: %w", err)
	}

	mon, err := newMonitor(c.cfg, c.sweepStaleConnections, c.cleanupSweep)
	if err != nil {
		return err
	}

	ch, unsubscribe := c.bus.Subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsubscribe()
		c.consumeLifecycle(ch)
	}()

	c.mu.Lock()
	c.mon = mon
	c.initialized = true
	c.mu.Unlock()

	mon.start()
	c.log.Info("recovery coordinator initialized",
		"snapshotInterval", c.cfg.SnapshotInterval,
		"recoveryTimeout", c.cfg.RecoveryTimeout)
	return nil
}

// Cleanup stops the sweeps, clears all timers and tracked connections, and
// closes the store connection.
func (c *Coordinator) Cleanup() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	mon := c.mon
	c.mu.Unlock()

	if mon != nil {
		mon.stop()
	}
	close(c.stopCh)
	c.wg.Wait()

	c.sched.stop()
	c.table.clear()
	observability.SetTrackedConnections(0)

	return c.store.Close()
}

// TrackConnection registers a live connection for a session and starts its
// snapshot schedule. Any prior entry for the session is overwritten.
func (c *Coordinator) TrackConnection(sessionID, userID, socketID string) {
	c.table.track(sessionID, userID, socketID)
	c.sched.schedule(sessionID)
	observability.SetTrackedConnections(c.table.size())

	c.log.Info("tracking connection", "sessionId", sessionID, "socketId", socketID)
}

// UpdateHeartbeat refreshes a session's liveness. A heartbeat on a
// disconnected session counts as a reconnection and neutralizes the pending
// recovery timeout.
func (c *Coordinator) UpdateHeartbeat(sessionID string) {
	reconnected, tracked := c.table.heartbeat(sessionID)
	if !tracked {
		c.log.Warn("heartbeat for untracked session", "sessionId", sessionID)
		return
	}
	if reconnected {
		c.log.Info("session reconnected via heartbeat", "sessionId", sessionID)
	}
}

// HandleDisconnect marks the session disconnected, forces a disconnect
// snapshot, pauses the session, and arms the recovery-timeout window.
func (c *Coordinator) HandleDisconnect(ctx context.Context, sessionID, reason string) {
	state, ok := c.table.disconnect(sessionID)
	if !ok {
		c.log.Warn("disconnect for untracked session", "sessionId", sessionID)
		return
	}

	c.log.Info("session disconnected", "sessionId", sessionID, "reason", reason)

	if _, err := c.CreateSnapshot(ctx, sessionID, ReasonDisconnect); err != nil {
		c.log.Error("disconnect snapshot failed", "sessionId", sessionID, "error", err)
	}

	if err := c.manager.PauseSession(ctx, sessionID, state.UserID, reason); err != nil {
		c.log.Error("pause on disconnect failed", "sessionId", sessionID, "error", err)
	}

	c.table.armTimeout(sessionID, c.cfg.RecoveryTimeout, func() {
		c.handleRecoveryTimeout(sessionID)
	})
}

// handleRecoveryTimeout fires when the recovery window elapses. The tracker
// re-checks that recovery is still pending, so a timeout that lost the race
// against a reconnect is a no-op.
func (c *Coordinator) handleRecoveryTimeout(sessionID string) {
	state, expired := c.table.timeoutExpired(sessionID)
	if !expired {
		return
	}

	c.sched.cancel(sessionID)
	observability.SetTrackedConnections(c.table.size())
	observability.RecordSessionAbandoned()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.log.Warn("recovery window elapsed, abandoning session", "sessionId", sessionID)
	if err := c.manager.AbandonSession(ctx, sessionID, state.UserID, "Recovery timeout"); err != nil {
		c.log.Error("abandon after timeout failed", "sessionId", sessionID, "error", err)
	}

	c.bus.Publish(events.Event{
		Type:      events.ConnectionAbandoned,
		SessionID: sessionID,
		UserID:    state.UserID,
	})
}

// CreateSnapshot captures the session's current context, chat history, and
// socket state into the durable store, overwriting any prior snapshot.
// A session with no active context yields (nil, nil) with a warning logged.
func (c *Coordinator) CreateSnapshot(ctx context.Context, sessionID string, reason SnapshotReason) (*SessionSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "recovery.CreateSnapshot",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("snapshot.reason", string(reason)),
		))
	defer span.End()

	start := time.Now()

	if reason == ReasonManual && !c.manualLimiter(sessionID).Allow() {
		observability.RecordSnapshot(string(reason), "throttled", time.Since(start))
		return nil, fmt.Errorf("snapshot rate limit exceeded for session %s", sessionID)
	}

	sctx, err := c.manager.GetSessionContext(ctx, sessionID)
	if err != nil {
		observability.RecordSnapshot(string(reason), "error", time.Since(start))
		return nil, fmt.Errorf("get session context: %w", err)
	}
	if sctx == nil {
		c.log.Warn("no active context, skipping snapshot", "sessionId", sessionID, "reason", reason)
		observability.RecordSnapshot(string(reason), "skipped", time.Since(start))
		return nil, nil
	}

	messages, err := c.reader.FindBySession(ctx, sessionID)
	if err != nil {
		observability.RecordSnapshot(string(reason), "error", time.Since(start))
		return nil, fmt.Errorf("read chat history: %w", err)
	}

	conn, tracked := c.table.get(sessionID)
	var socket SocketState
	if tracked {
		socket = SocketState{
			Connected:     conn.Connected,
			LastHeartbeat: conn.LastHeartbeat,
			ConnectionID:  conn.SocketID,
		}
	}

	userID := conn.UserID
	if userID == "" {
		// Untracked sessions (e.g. manual snapshots after a restart) still
		// need the owner for the store key.
		state, err := c.sessionOwner(ctx, sessionID)
		if err != nil {
			observability.RecordSnapshot(string(reason), "error", time.Since(start))
			return nil, err
		}
		userID = state
	}

	snap := &SessionSnapshot{
		SessionID:   sessionID,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
		Context:     sctx,
		ChatHistory: messages,
		SocketState: socket,
		RecoveryMetadata: RecoveryMetadata{
			SnapshotReason: reason,
			Version:        SnapshotVersion,
			Checksum:       Checksum(sctx, len(messages)),
		},
	}

	if err := c.store.Put(ctx, snap); err != nil {
		observability.RecordSnapshot(string(reason), "error", time.Since(start))
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	observability.RecordSnapshot(string(reason), "ok", time.Since(start))
	c.log.Debug("snapshot stored", "sessionId", sessionID, "reason", reason, "messages", len(messages))
	return snap, nil
}

// RecoverSession restores a session from its latest valid snapshot. The
// outcome is always a structured RecoveryResult; failures populate Errors
// rather than panicking or returning an error.
func (c *Coordinator) RecoverSession(ctx context.Context, sessionID, userID string, opts RecoverOptions) *RecoveryResult {
	ctx, span := c.tracer.Start(ctx, "recovery.RecoverSession",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	start := time.Now()
	result := &RecoveryResult{
		SessionID:    sessionID,
		RecoveryType: RecoveryFailed,
	}
	defer func() {
		if r := recover(); r != nil {
			result.RecoveryType = RecoveryFailed
			result.Success = false
			result.RestoredContext = nil
			result.RestoredMessages = nil
			result.Errors = append(result.Errors, fmt.Sprintf("unexpected failure: %v", r))
		}
		result.RecoveryTime = time.Since(start)
		observability.RecordRecovery(string(result.RecoveryType), result.RecoveryTime)
		span.SetAttributes(attribute.String("recovery.type", string(result.RecoveryType)))
	}()

	if !c.allowAttempt(sessionID) {
		result.Errors = append(result.Errors, "recovery attempts exhausted")
		return result
	}

	snap, err := c.store.GetLatest(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			result.Errors = append(result.Errors, "No recovery snapshot found")
		} else {
			c.log.Error("snapshot lookup failed", "sessionId", sessionID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("snapshot lookup failed: %v", err))
		}
		return result
	}

	if opts.ValidateIntegrity && !ValidateSnapshot(snap) {
		if opts.StrictIntegrity || c.cfg.StrictIntegrity {
			result.Errors = append(result.Errors, "snapshot failed integrity validation")
			return result
		}
		result.Warnings = append(result.Warnings, "snapshot failed integrity validation, proceeding anyway")
	}

	if snap.UserID != userID {
		// Authorization failures never leak any snapshot data.
		result.Errors = append(result.Errors, "unauthorized: snapshot belongs to a different user")
		return result
	}

	active, err := c.manager.GetSessionContext(ctx, sessionID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("session manager unavailable: %v", err))
		return result
	}

	contextRestored := false
	if active != nil {
		result.RecoveryType = RecoveryPartial
		result.Warnings = append(result.Warnings, "session already has an active context, not overwritten")
	} else {
		if err := c.manager.RestoreSessionContext(ctx, sessionID, userID, snap.Context); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("context restore failed: %v", err))
			return result
		}
		result.RecoveryType = RecoveryFull
		result.RestoredContext = snap.Context
		contextRestored = true
	}

	if opts.IncludeMessages {
		limit := opts.MaxMessageHistory
		if limit <= 0 {
			limit = c.cfg.MaxMessageHistory
		}
		messages := snap.ChatHistory
		if len(messages) > limit {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("message history truncated to last %d of %d", limit, len(messages)))
			messages = messages[len(messages)-limit:]
		}
		result.RestoredMessages = messages
	}

	if opts.AutoResume && contextRestored {
		if err := c.manager.ResumeSession(ctx, sessionID, userID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("auto-resume failed: %v", err))
		}
	}

	result.Success = true
	c.clearAttempts(sessionID)

	c.bus.Publish(events.Event{
		Type:      events.SessionRecovered,
		SessionID: sessionID,
		UserID:    userID,
		Data: map[string]any{
			"recoveryType": string(result.RecoveryType),
			"recoveryTime": time.Since(start).String(),
		},
	})

	c.log.Info("session recovered",
		"sessionId", sessionID,
		"type", result.RecoveryType,
		"messages", len(result.RestoredMessages),
		"warnings", len(result.Warnings))
	return result
}

// RestoreFromDisconnect re-tracks a reconnecting socket and recovers the
// session with the standard reconnect options.
func (c *Coordinator) RestoreFromDisconnect(ctx context.Context, sessionID, userID, socketID string) *RecoveryResult {
	c.table.reconnect(sessionID, userID, socketID)
	c.sched.schedule(sessionID)
	observability.SetTrackedConnections(c.table.size())

	result := c.RecoverSession(ctx, sessionID, userID, RecoverOptions{
		IncludeMessages:   true,
		MaxMessageHistory: 50,
		AutoResume:        true,
		ValidateIntegrity: true,
	})

	if result.Success {
		c.bus.Publish(events.Event{
			Type:      events.ConnectionRestored,
			SessionID: sessionID,
			UserID:    userID,
			Data:      map[string]any{"socketId": socketID},
		})
	}
	return result
}

// GetRecoveryStatus reports, without side effects, whether the session has
// a snapshot and whether recovery is currently applicable.
func (c *Coordinator) GetRecoveryStatus(ctx context.Context, sessionID string) RecoveryStatus {
	var status RecoveryStatus

	snap, err := c.store.GetLatest(ctx, sessionID)
	switch {
	case err == nil:
		status.HasSnapshot = true
		ts := snap.Timestamp
		status.LastSnapshot = &ts
	case errors.Is(err, ErrSnapshotNotFound):
	default:
		c.log.Error("recovery status lookup failed", "sessionId", sessionID, "error", err)
	}

	if conn, ok := c.table.get(sessionID); ok {
		status.ConnectionState = &conn
		status.RecoveryAvailable = status.HasSnapshot && !conn.Connected
	} else {
		status.RecoveryAvailable = status.HasSnapshot
	}
	return status
}

// ListRecoverableSessions returns the user's snapshots, newest first.
// Store failures degrade to an empty list.
func (c *Coordinator) ListRecoverableSessions(ctx context.Context, userID string) []*SessionSnapshot {
	snapshots, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		c.log.Error("list snapshots failed", "userId", userID, "error", err)
		return nil
	}
	return snapshots
}

// CleanupExpiredSnapshots deletes snapshots older than maxAge (falling back
// to the configured retention bound) and returns the number deleted.
func (c *Coordinator) CleanupExpiredSnapshots(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = c.cfg.SnapshotMaxAge
	}

	deleted, err := c.store.CleanupExpired(ctx, maxAge)
	if deleted > 0 {
		observability.AddSnapshotsCleaned(deleted)
		c.log.Info("cleaned expired snapshots", "deleted", deleted, "maxAge", maxAge)
	}
	return deleted, err
}

// periodicSnapshot is the scheduler's fire callback.
func (c *Coordinator) periodicSnapshot(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.CreateSnapshot(ctx, sessionID, ReasonPeriodic); err != nil {
		c.log.Error("periodic snapshot failed", "sessionId", sessionID, "error", err)
	}
}

// sweepStaleConnections converts silent connections into disconnects. This
// is the only path that detects silent connection loss; client-initiated
// disconnects call HandleDisconnect directly.
func (c *Coordinator) sweepStaleConnections() {
	for _, sessionID := range c.table.stale(c.cfg.ConnectionTimeout) {
		observability.RecordHeartbeatTimeout()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c.HandleDisconnect(ctx, sessionID, "Heartbeat timeout")
		cancel()
	}
}

// cleanupSweep is the hourly snapshot-retention job.
func (c *Coordinator) cleanupSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := c.CleanupExpiredSnapshots(ctx, c.cfg.SnapshotMaxAge); err != nil {
		c.log.Error("snapshot cleanup sweep failed", "error", err)
	}
}

// consumeLifecycle reacts to session lifecycle events. Terminal events
// trigger recovery-data cleanup; redelivery is harmless because cleanup is
// idempotent.
func (c *Coordinator) consumeLifecycle(ch <-chan events.Event) {
	for {
		select {
		case evt := <-ch:
			switch evt.Type {
			case events.SessionCompleted, events.SessionAbandoned, events.SessionEscalated:
				c.cleanupSession(evt.SessionID)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cleanupSession removes all recovery data for a terminated session.
func (c *Coordinator) cleanupSession(sessionID string) {
	c.sched.cancel(sessionID)
	c.table.remove(sessionID)
	c.clearAttempts(sessionID)
	observability.SetTrackedConnections(c.table.size())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.Delete(ctx, sessionID); err != nil {
		c.log.Error("snapshot delete on session end failed", "sessionId", sessionID, "error", err)
	}
}

// sessionOwner resolves the owning user for an untracked session.
func (c *Coordinator) sessionOwner(ctx context.Context, sessionID string) (string, error) {
	snap, err := c.store.GetLatest(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("resolve session owner: %w", err)
	}
	return snap.UserID, nil
}

func (c *Coordinator) manualLimiter(sessionID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), manualSnapshotBurst)
		c.limiters[sessionID] = limiter
	}
	return limiter
}

func (c *Coordinator) allowAttempt(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts[sessionID]++
	if c.policy == nil {
		return true
	}
	return c.policy(sessionID, c.attempts[sessionID])
}

func (c *Coordinator) clearAttempts(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, sessionID)
	delete(c.limiters, sessionID)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = def.SnapshotInterval
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = def.MaxRecoveryAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = def.ConnectionTimeout
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = def.SnapshotMaxAge
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxMessageHistory <= 0 {
		cfg.MaxMessageHistory = def.MaxMessageHistory
	}
	return cfg
}
