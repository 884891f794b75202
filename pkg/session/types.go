// Package session provides the session-manager side of the training
// simulator: per-session context state, lifecycle status transitions, and
// the lifecycle event stream consumed by the recovery subsystem.
package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusEscalated:
		return true
	}
	return false
}

// State is the stored record of one session.
type State struct {
	// SessionID is the unique session identifier.
	SessionID string `json:"sessionId"`
	// UserID identifies the owning trainee.
	UserID string `json:"userId"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Context is the opaque training state.
	Context Context `json:"context"`
	// PauseReason records why a paused session was paused.
	PauseReason string `json:"pauseReason,omitempty"`
	// StartedAt is when the session was created.
	StartedAt time.Time `json:"startedAt"`
	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Common errors for session operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotOwner is returned when a caller operates on another user's session.
	ErrNotOwner = errors.New("session belongs to a different user")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)
