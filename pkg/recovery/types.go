// Package recovery implements session continuity for the training simulator:
// tracking live connection state, periodically snapshotting sessions to a
// durable store, and restoring them after a disconnect or restart within a
// bounded recovery window.
package recovery

import (
	"time"

	"github.com/traindeck-dev/traindeck/pkg/history"
	"github.com/traindeck-dev/traindeck/pkg/session"
)

// SnapshotReason records why a snapshot was taken.
type SnapshotReason string

const (
	ReasonPeriodic   SnapshotReason = "periodic"
	ReasonDisconnect SnapshotReason = "disconnect"
	ReasonError      SnapshotReason = "error"
	ReasonManual     SnapshotReason = "manual"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// SocketState is the connection status observed at capture time.
type SocketState struct {
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	ConnectionID  string    `json:"connectionId,omitempty"`
}

// RecoveryMetadata describes how and when a snapshot was produced.
type RecoveryMetadata struct {
	SnapshotReason SnapshotReason `json:"snapshotReason"`
	Version        int            `json:"version"`
	Checksum       string         `json:"checksum"`
}

// SessionSnapshot is a point-in-time capture of a session. The context and
// chat history are copied by value; a snapshot never aliases live state.
type SessionSnapshot struct {
	SessionID        string            `json:"sessionId"`
	UserID           string            `json:"userId"`
	Timestamp        time.Time         `json:"timestamp"`
	Context          session.Context   `json:"context"`
	ChatHistory      []history.Message `json:"chatHistory"`
	SocketState      SocketState       `json:"socketState"`
	RecoveryMetadata RecoveryMetadata  `json:"recoveryMetadata"`
}

// ConnectionState is the live, in-memory record of one tracked session.
type ConnectionState struct {
	SessionID         string     `json:"sessionId"`
	UserID            string     `json:"userId"`
	SocketID          string     `json:"socketId"`
	Connected         bool       `json:"connected"`
	LastHeartbeat     time.Time  `json:"lastHeartbeat"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	LastDisconnect    *time.Time `json:"lastDisconnect,omitempty"`
	RecoveryPending   bool       `json:"recoveryPending"`
}

// RecoveryType classifies the outcome of a recovery attempt.
type RecoveryType string

const (
	// RecoveryFull means no active context existed and the snapshot's
	// context was restored.
	RecoveryFull RecoveryType = "full"
	// RecoveryPartial means an active context already existed and was left
	// untouched; only messages (if requested) were returned.
	RecoveryPartial RecoveryType = "partial"
	// RecoveryFailed means nothing was restored.
	RecoveryFailed RecoveryType = "failed"
)

// RecoveryResult is the transient outcome of a recovery attempt.
// It is returned to the caller and never persisted.
type RecoveryResult struct {
	Success          bool              `json:"success"`
	SessionID        string            `json:"sessionId"`
	RecoveryType     RecoveryType      `json:"recoveryType"`
	RestoredContext  session.Context   `json:"restoredContext,omitempty"`
	RestoredMessages []history.Message `json:"restoredMessages,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Errors           []string          `json:"errors,omitempty"`
	RecoveryTime     time.Duration     `json:"recoveryTime"`
}

// RecoverOptions controls a single RecoverSession call.
// Use DefaultRecoverOptions as the starting point.
type RecoverOptions struct {
	// IncludeMessages returns the (possibly truncated) chat history.
	IncludeMessages bool
	// MaxMessageHistory caps the number of restored messages, keeping the
	// most recent ones in chronological order.
	MaxMessageHistory int
	// AutoResume resumes the session after a full context restore.
	AutoResume bool
	// ValidateIntegrity recomputes and checks the snapshot checksum.
	ValidateIntegrity bool
	// StrictIntegrity turns a checksum mismatch into a failed recovery
	// instead of a warning.
	StrictIntegrity bool
}

// DefaultRecoverOptions returns the standard recovery options.
func DefaultRecoverOptions() RecoverOptions {
	return RecoverOptions{
		IncludeMessages:   true,
		MaxMessageHistory: 100,
		AutoResume:        false,
		ValidateIntegrity: true,
	}
}

// RecoveryStatus reports whether a session can currently be recovered.
type RecoveryStatus struct {
	HasSnapshot       bool             `json:"hasSnapshot"`
	LastSnapshot      *time.Time       `json:"lastSnapshot,omitempty"`
	ConnectionState   *ConnectionState `json:"connectionState,omitempty"`
	RecoveryAvailable bool             `json:"recoveryAvailable"`
}

// AttemptPolicy decides whether another recovery attempt is allowed for a
// session. attempts is the count including the current one. The default
// (nil) policy always allows; how repeated failures should degrade is an
// open product question and deliberately left to the caller.
type AttemptPolicy func(sessionID string, attempts int) bool

// Config holds the recovery policy knobs. All fields have working defaults
// from DefaultConfig.
type Config struct {
	// SnapshotInterval is the periodic snapshot cadence per live session.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// RecoveryTimeout is how long a disconnected session may reconnect
	// before being abandoned.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// MaxRecoveryAttempts is surfaced to the AttemptPolicy hook; the
	// default policy does not enforce it.
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"`
	// HeartbeatInterval is the monitor sweep cadence.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ConnectionTimeout is the silence threshold that converts a tracked
	// connection into a disconnect.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// SnapshotTTL is the store-enforced snapshot expiry.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	// SnapshotMaxAge is the cleanup sweep's retention bound.
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
	// CleanupInterval is the cleanup sweep cadence.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// MaxMessageHistory is the default message cap on recovery.
	MaxMessageHistory int `yaml:"max_message_history"`
	// StrictIntegrity makes checksum mismatches fail recovery globally.
	StrictIntegrity bool `yaml:"strict_integrity"`
}

// DefaultConfig returns the standard policy knobs.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval:    30 * time.Second,
		RecoveryTimeout:     5 * time.Minute,
		MaxRecoveryAttempts: 3,
		HeartbeatInterval:   10 * time.Second,
		ConnectionTimeout:   60 * time.Second,
		SnapshotTTL:         24 * time.Hour,
		SnapshotMaxAge:      24 * time.Hour,
		CleanupInterval:     time.Hour,
		MaxMessageHistory:   100,
	}
}
