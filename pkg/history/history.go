// Package history stores the ordered chat transcript of a training session.
// Messages are append-only and immutable once written; readers always see
// them oldest first.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAI     SenderType = "ai"
	SenderSystem SenderType = "system"
)

// Message is a single chat message within a session.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Sender    SenderType     `json:"senderType"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a message with a generated ID and UTC timestamp.
func NewMessage(sessionID string, sender SenderType, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("history store is closed")

// Store persists session transcripts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a message to the end of a session's transcript.
	Append(ctx context.Context, msg *Message) error

	// FindBySession returns a session's messages oldest first.
	// An unknown session yields an empty slice, not an error.
	FindBySession(ctx context.Context, sessionID string) ([]Message, error)

	// DeleteSession removes a session's transcript.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}
