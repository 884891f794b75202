// Package events provides the in-process event bus connecting the session
// manager's lifecycle stream to the recovery subsystem. Delivery is
// at-least-once per subscriber; consumers are expected to be idempotent.
package events

import (
	"sync"
	"time"
)

// Type identifies an event on the bus.
type Type string

const (
	SessionCreated   Type = "session_created"
	SessionStarted   Type = "session_started"
	SessionCompleted Type = "session_completed"
	SessionAbandoned Type = "session_abandoned"
	SessionEscalated Type = "session_escalated"
	SessionPaused    Type = "session_paused"

	SessionRecovered    Type = "session_recovered"
	ConnectionRestored  Type = "connection_restored"
	ConnectionAbandoned Type = "connection_abandoned"
)

// Event is a single notification published on the bus.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// DefaultBuffer is the per-subscriber channel buffer size.
const DefaultBuffer = 64

// Bus is a minimal publish/subscribe fan-out.
// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch   chan Event
	done chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*subscription]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel along
// with an unsubscribe function. The channel is never closed; after
// unsubscribing no further events are delivered on it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	sub := &subscription{
		ch:   make(chan Event, DefaultBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.done)
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers the event to every current subscriber. A subscriber that
// has unsubscribed mid-delivery is skipped.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}
}

// Close shuts down the bus. Subsequent Subscribe calls return inert channels
// and Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.done)
		delete(b.subs, sub)
	}
}
