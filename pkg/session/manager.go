package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/traindeck-dev/traindeck/pkg/events"
)

// Manager owns session lifecycle and context state. It publishes lifecycle
// events on the bus so that collaborators (notably the recovery
// coordinator) can react to session endings.
// Manager is safe for concurrent use.
type Manager struct {
	store StateStore
	bus   *events.Bus
	log   *slog.Logger
}

// NewManager creates a session manager on the given state store and bus.
func NewManager(store StateStore, bus *events.Bus) *Manager {
	return &Manager{
		store: store,
		bus:   bus,
		log:   slog.Default().With("component", "session"),
	}
}

// Start creates a new active session for a user and emits session_started.
func (m *Manager) Start(ctx context.Context, sessionID, userID string, initial Context) error {
	now := time.Now().UTC()
	state := &State{
		SessionID: sessionID,
		UserID:    userID,
		Status:    StatusActive,
		Context:   initial.Clone(),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	m.publish(events.SessionCreated, sessionID, userID, nil)
	m.publish(events.SessionStarted, sessionID, userID, nil)
	return nil
}

// Get retrieves the full state of a session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*State, error) {
	return m.store.Load(ctx, sessionID)
}

// GetSessionContext returns the session's context, or nil if the session is
// unknown or already ended. Paused sessions still have an active context.
func (m *Manager) GetSessionContext(ctx context.Context, sessionID string) (Context, error) {
	state, err := m.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, nil
	}
	return state.Context.Clone(), nil
}

// RestoreSessionContext installs a recovered context for a session. The
// session comes back paused; ResumeSession makes it active again.
func (m *Manager) RestoreSessionContext(ctx context.Context, sessionID, userID string, sctx Context) error {
	now := time.Now().UTC()

	state, err := m.store.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if state == nil {
		state = &State{
			SessionID: sessionID,
			UserID:    userID,
			StartedAt: now,
		}
	} else if state.UserID != userID {
		return ErrNotOwner
	}

	state.Status = StatusPaused
	state.Context = sctx.Clone()
	state.PauseReason = "restored from snapshot"
	state.UpdatedAt = now

	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("restore context: %w", err)
	}
	return nil
}

// PauseSession moves an active session to paused and emits session_paused.
// Pausing an already-paused session is a no-op.
func (m *Manager) PauseSession(ctx context.Context, sessionID, userID, reason string) error {
	state, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if state.Status == StatusPaused {
		return nil
	}
	if state.Status.Terminal() {
		return fmt.Errorf("pause session %s: already %s", sessionID, state.Status)
	}

	state.Status = StatusPaused
	state.PauseReason = reason
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("pause session: %w", err)
	}

	m.publish(events.SessionPaused, sessionID, userID, map[string]any{"reason": reason})
	return nil
}

// ResumeSession moves a paused session back to active.
func (m *Manager) ResumeSession(ctx context.Context, sessionID, userID string) error {
	state, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if state.Status == StatusActive {
		return nil
	}
	if state.Status.Terminal() {
		return fmt.Errorf("resume session %s: already %s", sessionID, state.Status)
	}

	state.Status = StatusActive
	state.PauseReason = ""
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	return nil
}

// CompleteSession ends a session successfully and emits session_completed.
func (m *Manager) CompleteSession(ctx context.Context, sessionID, userID string) error {
	return m.finish(ctx, sessionID, userID, StatusCompleted, events.SessionCompleted, "")
}

// AbandonSession ends a session as abandoned and emits session_abandoned.
func (m *Manager) AbandonSession(ctx context.Context, sessionID, userID, reason string) error {
	return m.finish(ctx, sessionID, userID, StatusAbandoned, events.SessionAbandoned, reason)
}

// EscalateSession hands a session to a human supervisor and emits
// session_escalated.
func (m *Manager) EscalateSession(ctx context.Context, sessionID, userID, reason string) error {
	return m.finish(ctx, sessionID, userID, StatusEscalated, events.SessionEscalated, reason)
}

func (m *Manager) finish(ctx context.Context, sessionID, userID string, status Status, evt events.Type, reason string) error {
	state, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		// Terminal transitions are idempotent for event redelivery.
		return nil
	}

	state.Status = status
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}

	m.log.Info("session ended", "sessionId", sessionID, "status", status, "reason", reason)

	var data map[string]any
	if reason != "" {
		data = map[string]any{"reason": reason}
	}
	m.publish(evt, sessionID, userID, data)
	return nil
}

func (m *Manager) owned(ctx context.Context, sessionID, userID string) (*State, error) {
	state, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.UserID != userID {
		return nil, ErrNotOwner
	}
	return state, nil
}

func (m *Manager) publish(evt events.Type, sessionID, userID string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:      evt,
		SessionID: sessionID,
		UserID:    userID,
		Data:      data,
	})
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
